package transform

import (
	"context"
	"fmt"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

// Minifier shrinks final bundle text. The bundling core treats minification
// as an external concern; this interface is the seam.
type Minifier interface {
	Minify(ctx context.Context, text, mediaType string) (string, error)
}

// DefaultMinifier minifies CSS and JavaScript with tdewolff/minify.
type DefaultMinifier struct {
	m *minify.M
}

// NewDefaultMinifier creates a minifier handling text/css and
// application/javascript.
func NewDefaultMinifier() *DefaultMinifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	return &DefaultMinifier{m: m}
}

// Minify implements Minifier. Unknown media types pass through unchanged.
func (d *DefaultMinifier) Minify(ctx context.Context, text, mediaType string) (string, error) {
	out, err := d.m.String(mediaType, text)
	if err != nil {
		if err == minify.ErrNotExist {
			return text, nil
		}
		return "", fmt.Errorf("minify %s: %w", mediaType, err)
	}
	return out, nil
}

// NopMinifier returns input unchanged. Used when minification is disabled
// by configuration.
type NopMinifier struct{}

func (NopMinifier) Minify(_ context.Context, text, _ string) (string, error) {
	return text, nil
}
