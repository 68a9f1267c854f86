package fcp

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Source
// ///////////////////////////////////////////////

// Source exposes the application's live object graph for dynamic lookup.
// Fetch walks path from the root, one key per element, and reports whether
// every step resolved. An empty path returns the root itself.
type Source interface {
	Fetch(path ...string) (any, bool)
}

// NullSource never has anything. It stands in where no live access exists.
type NullSource struct{}

// Fetch implements [Source].
func (NullSource) Fetch(...string) (any, bool) { return nil, false }

// ValueSource serves a fixed in-memory graph.
type ValueSource struct {
	Root any
}

// Fetch implements [Source].
func (v ValueSource) Fetch(path ...string) (any, bool) {
	return walk(v.Root, path)
}

// ///////////////////////////////////////////////
// DocumentSource
// ///////////////////////////////////////////////

// DocumentSource serves the JSON context document written by the workflow
// extension. The file is re-read only when its modification time changes.
type DocumentSource struct {
	// Path is the document location.
	Path string
	// MaxAge treats documents not rewritten for this long as unavailable.
	// Zero disables the check.
	MaxAge time.Duration
	// now is overridable in tests.
	now func() time.Time

	mu      sync.Mutex
	modTime time.Time
	root    any
}

// NewDocumentSource returns a source for the document at path.
func NewDocumentSource(path string, maxAge time.Duration) *DocumentSource {
	return &DocumentSource{Path: path, MaxAge: maxAge, now: time.Now}
}

// Fetch implements [Source]. A missing, stale or malformed document
// resolves nothing.
func (d *DocumentSource) Fetch(path ...string) (any, bool) {
	root, _ := d.load()
	if root == nil {
		return nil, false
	}
	return walk(root, path)
}

func (d *DocumentSource) clock() func() time.Time {
	if d.now != nil {
		return d.now
	}
	return time.Now
}

// load returns the parsed document, re-reading it when it changed.
func (d *DocumentSource) load() (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(d.Path)
	if err != nil {
		d.root, d.modTime = nil, time.Time{}
		return nil, err
	}
	if d.MaxAge > 0 && d.clock()().Sub(info.ModTime()) > d.MaxAge {
		return nil, nil
	}
	if d.root != nil && info.ModTime().Equal(d.modTime) {
		return d.root, nil
	}

	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, err
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		// Keep the previous document; the extension may be mid-write.
		return d.root, fmt.Errorf("parse %s: %w", d.Path, err)
	}
	d.root, d.modTime = root, info.ModTime()
	return root, nil
}

// ///////////////////////////////////////////////
// Dynamic Lookup
// ///////////////////////////////////////////////

// walk follows path through maps, structs and pointers.
func walk(v any, path []string) (any, bool) {
	if v == nil {
		return nil, false
	}
	for _, key := range path {
		next, ok := lookup(v, key)
		if !ok {
			return nil, false
		}
		v = next
	}
	return v, true
}

// lookup resolves one key on v. Maps match keys exactly; structs match the
// field name or its json tag, ignoring case. Nil results do not resolve.
func lookup(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[key]
		return val, ok && val != nil
	case map[string]string:
		val, ok := m[key]
		return val, ok
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return unwrap(val)
	case reflect.Struct:
		t := rv.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
				name = tag
			}
			if strings.EqualFold(name, key) || strings.EqualFold(f.Name, key) {
				return unwrap(rv.Field(i))
			}
		}
	}
	return nil, false
}

// unwrap converts a reflected value back to an interface, rejecting nils.
func unwrap(val reflect.Value) (any, bool) {
	switch val.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if val.IsNil() {
			return nil, false
		}
	}
	return val.Interface(), true
}
