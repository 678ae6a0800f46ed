package eventmap

import (
	"fmt"
	"strings"
	"time"
)

// LoadError is returned when a load pass fails. Files lists the documents
// touched before the failure so a watcher can keep tracking them.
type LoadError struct {
	Files []string
	Err   error
}

func (e *LoadError) Error() string { return e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// Load resolves the event map at configPath and the optional globals
// document, returning an immutable snapshot.
func Load(configPath, globalsPath string) (*Snapshot, error) {
	if strings.TrimSpace(configPath) == "" {
		return nil, fmt.Errorf("event map path is required")
	}

	r := newResolver()
	fail := func(err error) (*Snapshot, error) {
		return nil, &LoadError{Files: r.files, Err: err}
	}

	tree, err := r.file(configPath, nil)
	if err != nil {
		return fail(err)
	}
	root, ok := tree.(map[string]any)
	if !ok {
		return fail(fmt.Errorf("%w: %s: top level must be a mapping of event names, got %T", ErrInvalidDefinition, configPath, tree))
	}
	events, err := Compile(root)
	if err != nil {
		return fail(fmt.Errorf("compile %s: %w", configPath, err))
	}

	globals := map[string]any{}
	if strings.TrimSpace(globalsPath) != "" {
		doc, err := r.file(globalsPath, nil)
		if err != nil {
			return fail(err)
		}
		switch g := doc.(type) {
		case map[string]any:
			globals = g
		case nil:
		default:
			return fail(fmt.Errorf("%w: %s: globals must be a mapping, got %T", ErrInvalidDefinition, globalsPath, doc))
		}
	}

	return &Snapshot{
		Events:   events,
		Globals:  globals,
		Files:    r.files,
		LoadedAt: time.Now().UTC(),
	}, nil
}
