package fcp

import (
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Resolver turns a persisted file reference into a filesystem path.
type Resolver interface {
	Resolve(raw any) (string, bool)
}

// ResolverFunc adapts a function to [Resolver].
type ResolverFunc func(raw any) (string, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(raw any) (string, bool) { return f(raw) }

// PathResolver handles the reference shapes that need no system bookmark
// API: absolute paths, file:// URLs, dictionaries wrapping a "Bookmark"
// entry, and byte strings that are UTF-8 encoded paths. Opaque bookmark
// blobs do not resolve.
type PathResolver struct{}

// Resolve implements [Resolver].
func (PathResolver) Resolve(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return resolveString(v)
	case []byte:
		if !utf8.Valid(v) {
			return "", false
		}
		return resolveString(strings.TrimRight(string(v), "\x00"))
	case map[string]any:
		if b, ok := v["Bookmark"]; ok {
			return PathResolver{}.Resolve(b)
		}
	}
	return "", false
}

func resolveString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "file://") {
		u, err := url.Parse(s)
		if err != nil || u.Path == "" {
			return "", false
		}
		s = u.Path
	}
	if !filepath.IsAbs(s) {
		return "", false
	}
	return filepath.Clean(s), true
}

// resolveFirst returns the first entry of list that r resolves.
func resolveFirst(r Resolver, list any) (string, bool) {
	items, ok := list.([]any)
	if !ok {
		return "", false
	}
	for _, item := range items {
		if p, ok := r.Resolve(item); ok {
			return p, true
		}
	}
	return "", false
}
