package fcp

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
)

// ///////////////////////////////////////////////
// LiveProvider
// ///////////////////////////////////////////////

// LiveProvider reads the context from the application's live object graph.
//
// The graph is walked library, event, project, timeline, playhead. Every
// step tries a few alternative keys because the exported names differ
// between releases, and any step may be missing.
type LiveProvider struct {
	src Source
	// running reports whether the application is up. Nil means always.
	running func(ctx context.Context) bool

	mu   sync.Mutex
	last *Snapshot
}

// NewLiveProvider returns a provider over src. running may be nil.
func NewLiveProvider(src Source, running func(ctx context.Context) bool) *LiveProvider {
	if src == nil {
		src = NullSource{}
	}
	return &LiveProvider{src: src, running: running}
}

// Snapshot implements [Provider]. While the source is briefly unavailable
// the previous live snapshot is returned; it is forgotten once the
// application stops running.
func (p *LiveProvider) Snapshot(ctx context.Context) *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running != nil && !p.running(ctx) {
		p.last = nil
		return nil
	}

	library, ok := p.src.Fetch("activeLibrary")
	if !ok {
		return p.cached()
	}

	event := object(library, "activeEvent")
	project := object(event, "activeProject")
	if project == nil {
		project = object(library, "activeProject")
	}
	timeline := object(project, "timeline", "sequence")
	playhead := object(timeline, "playhead")

	timecode := text(playhead, "timecodeString", "timecode")
	if timecode == "" {
		timecode = text(timeline, "timecodeString", "timecode")
	}
	clip := text(object(timeline, "selectedClip", "currentClip"), "displayName", "name")
	if clip == "" {
		clip = text(project, "displayName", "name")
	}

	snap := Snapshot{
		Library:    text(library, "name", "displayName"),
		Event:      text(event, "name", "displayName"),
		Project:    text(project, "name", "displayName"),
		Clip:       clip,
		Timecode:   timecode,
		Resolution: text(project, "resolutionString", "projectResolution", "videoResolution"),
		FrameRate:  text(project, "frameRateString", "projectFrameRate", "videoFrameRate"),
	}.Normalize()

	p.last = &snap
	return p.cached()
}

// cached returns a copy of the last live snapshot. The caller holds p.mu.
func (p *LiveProvider) cached() *Snapshot {
	if p.last == nil {
		return nil
	}
	s := *p.last
	return &s
}

// object returns the first key of keys that resolves on in.
func object(in any, keys ...string) any {
	if in == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := lookup(in, k); ok {
			return v
		}
	}
	return nil
}

// text returns the first key of keys holding a non-blank string or a number.
func text(in any, keys ...string) string {
	if in == nil {
		return ""
	}
	for _, k := range keys {
		v, ok := lookup(in, k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case float32:
			return strconv.FormatFloat(float64(t), 'f', -1, 32)
		case int:
			return strconv.Itoa(t)
		case int64:
			return strconv.FormatInt(t, 10)
		case json.Number:
			return t.String()
		}
	}
	return ""
}
