package eventmap

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Import resolution errors.
var (
	ErrImportCycle      = errors.New("import cycle")
	ErrImportNotList    = errors.New("imported document is not an action list")
	ErrImportNotMapping = errors.New("imported document is not a mapping")
	ErrInvalidImport    = errors.New("invalid import directive")
)

// resolver expands import directives into a new tree and records every file
// it touches.
type resolver struct {
	touched map[string]struct{}
	files   []string
}

func newResolver() *resolver {
	return &resolver{touched: make(map[string]struct{})}
}

// Resolve loads the document at path and expands every import directive
// found in it, returning the resolved tree and the touched files.
func Resolve(path string) (any, []string, error) {
	r := newResolver()
	tree, err := r.file(path, nil)
	return tree, r.files, err
}

func (r *resolver) touch(path string) {
	if _, ok := r.touched[path]; ok {
		return
	}
	r.touched[path] = struct{}{}
	r.files = append(r.files, path)
}

func (r *resolver) file(path string, stack []string) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}
	if slices.Contains(stack, abs) {
		chain := append(slices.Clone(stack), abs)
		return nil, fmt.Errorf("%w: %s", ErrImportCycle, strings.Join(chain, " -> "))
	}
	r.touch(abs)

	doc, err := LoadDocument(abs)
	if err != nil {
		return nil, err
	}

	next := append(slices.Clone(stack), abs)
	return r.node(doc, filepath.Dir(abs), next)
}

func (r *resolver) node(node any, dir string, stack []string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		return r.mapping(n, dir, stack)
	case []any:
		return r.list(n, dir, stack)
	default:
		return node, nil
	}
}

// mapping handles `import` (replace the node) and `imports` (merge
// fragments onto the node, imported keys win).
func (r *resolver) mapping(n map[string]any, dir string, stack []string) (any, error) {
	if target, ok := n[keyImport]; ok {
		path, err := importPath(target, dir)
		if err != nil {
			return nil, err
		}
		return r.file(path, stack)
	}

	out := make(map[string]any, len(n))
	for key, value := range n {
		if key == keyImports {
			continue
		}
		var (
			resolved any
			err      error
		)
		if key == keyOneOf {
			resolved, err = r.variants(value, dir, stack)
		} else {
			resolved, err = r.node(value, dir, stack)
		}
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}

	raw, ok := n[keyImports]
	if !ok {
		return out, nil
	}
	targets, ok := raw.([]any)
	if !ok {
		targets = []any{raw}
	}
	for _, target := range targets {
		path, err := importPath(target, dir)
		if err != nil {
			return nil, err
		}
		fragment, err := r.file(path, stack)
		if err != nil {
			return nil, err
		}
		fields, ok := fragment.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrImportNotMapping, path)
		}
		for key, value := range fields {
			out[key] = value
		}
	}
	return out, nil
}

// list splices `import` elements in place.
func (r *resolver) list(n []any, dir string, stack []string) ([]any, error) {
	out := make([]any, 0, len(n))
	for _, elem := range n {
		if fields, ok := elem.(map[string]any); ok {
			if target, ok := fields[keyImport]; ok {
				items, err := r.importList(target, dir, stack)
				if err != nil {
					return nil, err
				}
				out = append(out, items...)
				continue
			}
		}
		resolved, err := r.node(elem, dir, stack)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// variants resolves the options of a oneOf group; an imported option must be
// an action list and takes that option's slot.
func (r *resolver) variants(value any, dir string, stack []string) (any, error) {
	options, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: oneOf must be a list, got %T", ErrInvalidDefinition, value)
	}
	out := make([]any, 0, len(options))
	for _, option := range options {
		if fields, ok := option.(map[string]any); ok {
			if target, ok := fields[keyImport]; ok {
				items, err := r.importList(target, dir, stack)
				if err != nil {
					return nil, err
				}
				out = append(out, items)
				continue
			}
		}
		resolved, err := r.node(option, dir, stack)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (r *resolver) importList(target any, dir string, stack []string) ([]any, error) {
	path, err := importPath(target, dir)
	if err != nil {
		return nil, err
	}
	doc, err := r.file(path, stack)
	if err != nil {
		return nil, err
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotList, path)
	}
	return items, nil
}

func importPath(target any, dir string) (string, error) {
	path, ok := target.(string)
	if !ok || strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: expected a document path, got %v", ErrInvalidImport, target)
	}
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return filepath.Clean(path), nil
}
