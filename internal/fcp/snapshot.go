// Package fcp reads the editing context of Final Cut Pro: which library,
// event and project are open, the clip under the playhead and the timeline
// format.
//
// Context comes from several [Provider] implementations chained together:
// the live document exported by the workflow extension, the application's
// preference plist, and, as a last resort, a scan of the library bundle on
// disk. Every provider may come up empty; that is not an error.
package fcp

import (
	"context"
	"log/slog"
	"strings"
)

// ///////////////////////////////////////////////
// Snapshot
// ///////////////////////////////////////////////

// Snapshot is one observation of the editor. An empty field means unknown.
type Snapshot struct {
	Library    string `json:"library,omitempty"`
	Event      string `json:"event,omitempty"`
	Project    string `json:"project,omitempty"`
	Clip       string `json:"clip,omitempty"`
	Timecode   string `json:"timecode,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	FrameRate  string `json:"frame_rate,omitempty"`
}

// Normalize returns a copy with surrounding whitespace removed from every
// field, so blank values become unknown.
func (s Snapshot) Normalize() Snapshot {
	return Snapshot{
		Library:    strings.TrimSpace(s.Library),
		Event:      strings.TrimSpace(s.Event),
		Project:    strings.TrimSpace(s.Project),
		Clip:       strings.TrimSpace(s.Clip),
		Timecode:   strings.TrimSpace(s.Timecode),
		Resolution: strings.TrimSpace(s.Resolution),
		FrameRate:  strings.TrimSpace(s.FrameRate),
	}
}

// IsZero reports whether every field is unknown.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// LogValue implements slog.LogValuer, omitting unknown fields.
func (s Snapshot) LogValue() slog.Value {
	var attrs []slog.Attr
	add := func(k, v string) {
		if v != "" {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	add("library", s.Library)
	add("event", s.Event)
	add("project", s.Project)
	add("clip", s.Clip)
	add("timecode", s.Timecode)
	add("resolution", s.Resolution)
	add("frame_rate", s.FrameRate)
	return slog.GroupValue(attrs...)
}

// ///////////////////////////////////////////////
// Provider
// ///////////////////////////////////////////////

// Provider produces the current editing context. A nil result means no
// context is available right now. Implementations must return promptly.
type Provider interface {
	Snapshot(ctx context.Context) *Snapshot
}

// ProviderFunc adapts a function to [Provider].
type ProviderFunc func(ctx context.Context) *Snapshot

// Snapshot calls f.
func (f ProviderFunc) Snapshot(ctx context.Context) *Snapshot { return f(ctx) }

// Chain asks each provider in order and returns the first non-nil snapshot.
type Chain []Provider

// Snapshot implements [Provider].
func (c Chain) Snapshot(ctx context.Context) *Snapshot {
	for _, p := range c {
		if p == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if s := p.Snapshot(ctx); s != nil {
			return s
		}
	}
	return nil
}
