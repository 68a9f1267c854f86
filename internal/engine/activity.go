package engine

import (
	"unicode/utf8"

	"tools.zach/dev/cutpresence/internal/config"
	"tools.zach/dev/cutpresence/internal/discord"
	"tools.zach/dev/cutpresence/internal/fcp"
)

// ///////////////////////////////////////////////
// Activity Construction
// ///////////////////////////////////////////////

// Fallbacks for an active snapshot with missing fields.
const (
	defaultProject = "Timeline Active"
	defaultLibrary = "Unknown Library"
	defaultEvent   = "Unknown Event"

	idleProject = "Inactive"
	idleEvent   = "Idle"
)

// activeView is a snapshot with defaults applied.
type activeView struct {
	library, event, project, clip string
	timecode                      string
	resolution, frameRate         string
}

func newActiveView(snap fcp.Snapshot, set Settings) activeView {
	v := activeView{
		library:    or(snap.Library, defaultLibrary),
		event:      or(snap.Event, defaultEvent),
		project:    or(snap.Project, defaultProject),
		resolution: snap.Resolution,
		frameRate:  snap.FrameRate,
	}
	v.clip = or(snap.Clip, v.project)
	if set.ShowTimecode {
		v.timecode = snap.Timecode
	}
	return v
}

// base identifies the shown context without the playhead.
func (v activeView) base() string {
	return "active|" + v.library + "|" + v.event + "|" + v.project + "|" + v.clip
}

func (v activeView) signature() string {
	return v.base() + "|" + or(v.timecode, "-")
}

func (v activeView) lines(set Settings) (details, state string) {
	details = "Editing: " + hide(v.clip, set)
	if v.timecode != "" {
		details += " — " + v.timecode
	}
	state = "Event: " + v.event + " • Library: " + v.library
	if set.ShowFormat {
		if v.resolution != "" {
			state += " • " + v.resolution
		}
		if v.frameRate != "" {
			state += " • " + v.frameRate
		}
	}
	return truncate(details), truncate(state)
}

func idleLines(s *state, set Settings) (details, state, library string) {
	var snap fcp.Snapshot
	if s.lastSnapshot != nil {
		snap = *s.lastSnapshot
	}
	project := or(snap.Project, or(s.lastProject, idleProject))
	event := or(snap.Event, or(s.lastEvent, idleEvent))
	library = or(snap.Library, or(s.lastLibrary, set.DisplayName))
	if project != idleProject {
		project = hide(project, set)
	}
	details = set.DisplayName
	state = "Idle (" + project + ") • Event: " + event + " • Library: " + library
	return truncate(details), truncate(state), library
}

func newActivity(details, state string, start int64, set Settings) *discord.Activity {
	a := &discord.Activity{
		Details:  details,
		State:    state,
		Instance: false,
		Type:     0,
		Platform: "desktop",
	}
	if start > 0 {
		a.Timestamps = &discord.Timestamps{Start: start}
	}
	if set.LargeImage != "" || set.LargeText != "" {
		a.Assets = &discord.Assets{LargeImage: set.LargeImage, LargeText: set.LargeText}
	}
	return a
}

// hide applies the project-name privacy setting.
func hide(name string, set Settings) string {
	if set.ProjectName == nil {
		return name
	}
	return set.ProjectName(name)
}

func or(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// truncate shortens s to Discord's field limit, counting runes.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= config.MaxFieldLength {
		return s
	}
	r := []rune(s)
	return string(r[:config.MaxFieldLength-1]) + "…"
}
