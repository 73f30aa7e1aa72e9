package bundle

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/crunchhq/crunch/pkg/observability"
)

// cssImportPattern matches the CSS/LESS/Sass family import forms:
//
//	@import url(x.css);
//	@import url("x.css") screen;
//	@import "x.less";
//	@import 'x.scss' print;
//
// Group 1 is the url() target, group 2 the quoted target, group 3 the
// optional media clause.
var cssImportPattern = regexp.MustCompile(`(?i)@import\s+(?:url\(\s*['"]?([^'")]+?)['"]?\s*\)|["']([^"']+)["'])([^;]*);`)

// jsImportPattern matches side-effect import statements in JavaScript and
// CoffeeScript sources. Only whole-line references are inlined; an import
// buried in an expression stays untouched.
//
//	import "util.js";
//	import 'widgets/menu.js'
//	require("util.js");
var jsImportPattern = regexp.MustCompile(`(?m)^[ \t]*(?:import\s+["']([^"']+)["']|require\(\s*["']([^"']+)["']\s*\));?[ \t]*$`)

// Resolver inlines import statements recursively, registering every file it
// reads with the build's Tracker. It is stateless across builds; per-build
// state (the resolution stack) lives in resolveState.
type Resolver struct {
	roots  map[Kind][]string
	logger *observability.Logger
}

// NewResolver creates a resolver searching cssRoots for CSS-family imports
// and jsRoots for script imports.
func NewResolver(cssRoots, jsRoots []string, logger *observability.Logger) *Resolver {
	return &Resolver{
		roots: map[Kind][]string{
			KindCSS: cssRoots,
			KindJS:  jsRoots,
		},
		logger: logger,
	}
}

// resolveState threads the per-build resolution stack through the recursive
// call chain. inStack guards against import cycles; stack preserves order
// for the diagnostic.
type resolveState struct {
	tracker *Tracker
	inStack map[string]bool
	stack   []string
}

func (st *resolveState) push(path string) {
	st.inStack[path] = true
	st.stack = append(st.stack, path)
}

func (st *resolveState) pop(path string) {
	delete(st.inStack, path)
	st.stack = st.stack[:len(st.stack)-1]
}

// Resolve scans source for import statements and substitutes each with the
// referenced file's recursively processed content. Remote imports are left
// untouched. Missing imports degrade to empty content. A cycle fails the
// whole resolution with a CircularImport error.
func (r *Resolver) Resolve(kind Kind, source, currentPath string, tracker *Tracker) (string, error) {
	st := &resolveState{
		tracker: tracker,
		inStack: make(map[string]bool),
	}
	return r.resolve(kind, source, filepath.Clean(currentPath), st)
}

func (r *Resolver) resolve(kind Kind, source, currentPath string, st *resolveState) (string, error) {
	st.push(currentPath)
	defer st.pop(currentPath)

	pattern := cssImportPattern
	if kind == KindJS {
		pattern = jsImportPattern
	}

	var firstErr error
	out := pattern.ReplaceAllStringFunc(source, func(match string) string {
		if firstErr != nil {
			return ""
		}

		target, media := parseImportMatch(kind, pattern, match)
		if target == "" || isRemoteTarget(target) {
			// Remote imports stay in place for the browser (or the remote
			// fetch collaborator) to handle.
			return match
		}

		resolved, ok := r.resolveTarget(kind, target, filepath.Dir(currentPath))
		if !ok {
			r.logger.WithField("import", target).
				WithField("source", currentPath).
				Debug("import target not found, substituting empty content")
			return ""
		}

		if st.inStack[resolved] {
			firstErr = circularImportError(resolved, st.stack)
			return ""
		}

		data, err := os.ReadFile(resolved)
		if err != nil {
			r.logger.WithError(err).WithField("import", resolved).
				Debug("import target unreadable, substituting empty content")
			return ""
		}
		st.tracker.Add(resolved)

		// Depth-first: nested imports are fully inlined before the parent
		// substitution happens.
		inlined, err := r.resolve(kind, string(data), resolved, st)
		if err != nil {
			firstErr = err
			return ""
		}

		if media != "" {
			return "@media " + media + " {\n" + inlined + "\n}"
		}
		return inlined
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// resolveTarget maps an import target to a concrete file, trying the
// importing file's directory first and then each configured search root.
func (r *Resolver) resolveTarget(kind Kind, target, currentDir string) (string, bool) {
	var candidates []string
	if filepath.IsAbs(target) {
		candidates = []string{target}
	} else {
		candidates = append(candidates, filepath.Join(currentDir, target))
		for _, root := range r.roots[kind] {
			candidates = append(candidates, filepath.Join(root, target))
		}
	}

	for _, candidate := range candidates {
		clean := filepath.Clean(candidate)
		if info, err := os.Stat(clean); err == nil && info.Mode().IsRegular() {
			return clean, true
		}
	}
	return "", false
}

func parseImportMatch(kind Kind, pattern *regexp.Regexp, match string) (target, media string) {
	groups := pattern.FindStringSubmatch(match)
	if groups == nil {
		return "", ""
	}
	if kind == KindJS {
		if groups[1] != "" {
			return groups[1], ""
		}
		return groups[2], ""
	}
	target = groups[1]
	if target == "" {
		target = groups[2]
	}
	return target, strings.TrimSpace(groups[3])
}

// isRemoteTarget reports whether an import target names a remote resource
// (explicit scheme or protocol-relative URL).
func isRemoteTarget(target string) bool {
	return strings.Contains(target, "://") || strings.HasPrefix(target, "//")
}
