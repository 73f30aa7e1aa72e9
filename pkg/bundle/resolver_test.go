package bundle

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunchhq/crunch/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestResolver(t *testing.T, root string) *Resolver {
	t.Helper()
	return NewResolver([]string{root}, []string{root}, testLogger())
}

func TestResolver_InlinesURLImport(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "@import url(b.css);\nbody{margin:0}")
	b := writeFile(t, root, "b.css", ".x{color:red}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, "@import url(b.css);\nbody{margin:0}", a, tracker)
	require.NoError(t, err)

	assert.Contains(t, out, ".x{color:red}")
	assert.NotContains(t, out, "@import")
	assert.True(t, tracker.Contains(b))
}

func TestResolver_InlinesQuotedImportForms(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.css", ".x{color:red}")
	a := writeFile(t, root, "a.css", "")

	r := newTestResolver(t, root)

	for _, source := range []string{
		`@import "b.css";`,
		`@import 'b.css';`,
		`@import url("b.css");`,
		`@import url('b.css');`,
		`@IMPORT url(b.css);`,
	} {
		tracker := NewTracker()
		out, err := r.Resolve(KindCSS, source, a, tracker)
		require.NoError(t, err, "source: %s", source)
		assert.Equal(t, ".x{color:red}", out, "source: %s", source)
	}
}

func TestResolver_NestedImportsInlinedDepthFirst(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "@import url(b.css);")
	b := writeFile(t, root, "b.css", "@import url(c.css);\n.b{}")
	c := writeFile(t, root, "c.css", ".c{}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, "@import url(b.css);", a, tracker)
	require.NoError(t, err)

	assert.Contains(t, out, ".c{}")
	assert.Contains(t, out, ".b{}")
	assert.True(t, tracker.Contains(b))
	assert.True(t, tracker.Contains(c))
}

func TestResolver_MediaQueryWrapping(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "")
	writeFile(t, root, "b.css", ".x{color:red}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, "@import url(b.css) screen;", a, tracker)
	require.NoError(t, err)

	assert.Equal(t, "@media screen {\n.x{color:red}\n}", out)
}

func TestResolver_CompoundMediaQuery(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "")
	writeFile(t, root, "b.css", ".x{}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, `@import "b.css" screen and (min-width: 600px);`, a, tracker)
	require.NoError(t, err)

	assert.Equal(t, "@media screen and (min-width: 600px) {\n.x{}\n}", out)
}

func TestResolver_RemoteImportsLeftInPlace(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "")

	r := newTestResolver(t, root)

	for _, source := range []string{
		`@import url(https://cdn.example.com/reset.css);`,
		`@import "http://cdn.example.com/reset.css";`,
		`@import url(//cdn.example.com/reset.css);`,
	} {
		tracker := NewTracker()
		out, err := r.Resolve(KindCSS, source, a, tracker)
		require.NoError(t, err)
		assert.Equal(t, source, out, "remote import must stay untouched")
		assert.Equal(t, 0, tracker.Len())
	}
}

func TestResolver_MissingImportDegradesToEmpty(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, "@import url(nope.css);\nbody{margin:0}", a, tracker)
	require.NoError(t, err)

	assert.Equal(t, "\nbody{margin:0}", out)
	assert.Equal(t, 0, tracker.Len())
}

func TestResolver_ImportResolvedAgainstSearchRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	a := writeFile(t, other, "a.css", "")
	writeFile(t, root, "shared.css", ".s{}")

	// a.css lives outside root; its import still resolves via the root.
	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, `@import "shared.css";`, a, tracker)
	require.NoError(t, err)
	assert.Equal(t, ".s{}", out)
}

func TestResolver_SelfImportIsCircular(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", `@import "a.css";`)

	r := newTestResolver(t, root)
	tracker := NewTracker()

	_, err := r.Resolve(KindCSS, `@import "a.css";`, a, tracker)
	require.Error(t, err)
	assert.Equal(t, KindCircularImport, KindOf(err))
}

func TestResolver_MutualImportCycleFailsFast(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.css", `@import "b.css";`)
	writeFile(t, root, "b.css", `@import "a.css";`)

	r := newTestResolver(t, root)
	tracker := NewTracker()

	_, err := r.Resolve(KindCSS, `@import "b.css";`, a, tracker)
	require.Error(t, err)
	assert.Equal(t, KindCircularImport, KindOf(err))
	assert.Contains(t, err.Error(), "import cycle")
}

func TestResolver_DiamondImportIsNotACycle(t *testing.T) {
	// a imports b and c; both import shared. Re-reading shared through a
	// second branch is legal, only re-entry on the active stack is a
	// cycle.
	root := t.TempDir()
	a := writeFile(t, root, "a.css", "@import \"b.css\";\n@import \"c.css\";")
	writeFile(t, root, "b.css", `@import "shared.css";`)
	writeFile(t, root, "c.css", `@import "shared.css";`)
	writeFile(t, root, "shared.css", ".shared{}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindCSS, "@import \"b.css\";\n@import \"c.css\";", a, tracker)
	require.NoError(t, err)
	assert.Equal(t, ".shared{}\n.shared{}", out)
}

func TestResolver_JSImportStatement(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "app.js", "")
	util := writeFile(t, root, "util.js", "function util(){}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindJS, "import \"util.js\";\nconsole.log(1);", a, tracker)
	require.NoError(t, err)

	assert.Contains(t, out, "function util(){}")
	assert.NotContains(t, out, "import")
	assert.True(t, tracker.Contains(util))
}

func TestResolver_JSRequireStatement(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "app.js", "")
	util := writeFile(t, root, "util.js", "function util(){}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	out, err := r.Resolve(KindJS, "require(\"util.js\");\nconsole.log(1);", a, tracker)
	require.NoError(t, err)

	assert.Contains(t, out, "function util(){}")
	assert.NotContains(t, out, "require")
	assert.True(t, tracker.Contains(util))
}

func TestResolver_JSImportMidLineNotInlined(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "app.js", "")
	writeFile(t, root, "util.js", "function util(){}")

	r := newTestResolver(t, root)
	tracker := NewTracker()

	source := `var s = 'import "util.js";';`
	out, err := r.Resolve(KindJS, source, a, tracker)
	require.NoError(t, err)
	assert.Equal(t, source, out)
}
