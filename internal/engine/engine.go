// Package engine reconciles the editing context of Final Cut Pro with the
// Discord Rich Presence.
//
// A single goroutine ([Engine.Run]) owns all state. Every tick it keeps the
// Discord connection alive, checks whether the app runs and is frontmost,
// reads a context snapshot and publishes an Active, Idle or cleared
// presence. Identical presences are never resent and timecode-only updates
// are throttled. Control calls from other goroutines are queued onto the
// engine goroutine.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"tools.zach/dev/cutpresence/internal/discord"
	"tools.zach/dev/cutpresence/internal/fcp"
	"tools.zach/dev/cutpresence/internal/logger"
	"tools.zach/dev/cutpresence/internal/metrics"
	"tools.zach/dev/cutpresence/internal/procwatch"
)

// ///////////////////////////////////////////////
// Dependencies
// ///////////////////////////////////////////////

// Client is the presence transport. *discord.Client implements it.
type Client interface {
	Connect(ctx context.Context) error
	SetActivity(activity *discord.Activity) error
	ClearActivity() error
	Close() error
	Events() <-chan discord.Event
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records publishes and state changes in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// ///////////////////////////////////////////////
// Engine
// ///////////////////////////////////////////////

type command int

const (
	cmdEnable command = iota
	cmdDisable
	cmdRefresh
)

func (c command) String() string {
	switch c {
	case cmdEnable:
		return "enable"
	case cmdDisable:
		return "disable"
	default:
		return "refresh"
	}
}

// Engine is the presence reconciler.
type Engine struct {
	set      Settings
	client   Client
	provider fcp.Provider
	monitor  procwatch.Monitor
	log      *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	cmds    chan command
	done    chan struct{}
	running atomic.Bool

	st     state
	status atomic.Pointer[Status]
}

// New creates an engine. It does nothing until Run is called.
func New(set Settings, client Client, provider fcp.Provider, monitor procwatch.Monitor, opts ...Option) *Engine {
	e := &Engine{
		set:      set,
		client:   client,
		provider: provider,
		monitor:  monitor,
		log:      slog.Default(),
		now:      time.Now,
		cmds:     make(chan command, 8),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.ComponentKey, "engine")
	e.st.enabled = set.StartEnabled
	e.st.mode = ModeCleared
	if !set.StartEnabled {
		e.st.mode = ModeDisabled
	}
	e.publishStatus()
	return e
}

// Run drives the engine until ctx is cancelled. The first tick runs
// immediately. On return the presence has been cleared (best effort) and the
// client closed. Run must be called at most once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	defer close(e.done)

	ticker := time.NewTicker(e.set.TickInterval)
	defer ticker.Stop()

	e.log.Info("engine started", "tick", e.set.TickInterval, "enabled", e.st.enabled)
	e.tick(ctx)

	events := e.client.Events()
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			e.shutdown()
			return nil
		case <-ticker.C:
			e.tick(ctx)
		case c := <-e.cmds:
			e.handle(ctx, c)
		case ev := <-events:
			e.handleEvent(ev)
			e.publishStatus()
		}
	}
}

// Enable turns publishing on and republishes unconditionally.
func (e *Engine) Enable() { e.send(cmdEnable) }

// Disable clears the presence and stops publishing.
func (e *Engine) Disable() { e.send(cmdDisable) }

// Refresh runs a tick now. Refreshes queued while one is pending coalesce.
func (e *Engine) Refresh() {
	select {
	case e.cmds <- cmdRefresh:
	default:
	}
}

// Status returns the latest state copy. It is safe from any goroutine.
func (e *Engine) Status() Status {
	return *e.status.Load()
}

func (e *Engine) send(c command) {
	select {
	case e.cmds <- c:
	case <-e.done:
	}
}

func (e *Engine) handle(ctx context.Context, c command) {
	e.log.Debug("control command", "command", c.String())
	switch c {
	case cmdEnable:
		e.enable(ctx)
	case cmdDisable:
		e.disable()
	case cmdRefresh:
		e.tick(ctx)
	}
}

func (e *Engine) enable(ctx context.Context) {
	e.st.enabled = true
	e.st.lastSignature = ""
	e.st.lastBase = ""
	e.st.lastActive = false
	e.tick(ctx)
}

func (e *Engine) disable() {
	e.st.enabled = false
	e.clear()
	e.st.mode = ModeDisabled
	e.publishStatus()
}

func (e *Engine) shutdown() {
	e.clear()
	if err := e.client.Close(); err != nil {
		e.log.Debug("client close failed", "error", err)
	}
	e.st.conn = Disconnected
	e.publishStatus()
	e.log.Info("engine stopped")
}

// ///////////////////////////////////////////////
// Reconciliation
// ///////////////////////////////////////////////

// tick runs one reconciliation pass.
func (e *Engine) tick(ctx context.Context) {
	defer e.publishStatus()

	if !e.st.enabled {
		e.clear()
		e.st.mode = ModeDisabled
		return
	}

	e.drainEvents()
	now := e.now()
	e.ensureConnected(ctx, now)

	if !e.monitor.Running(ctx) {
		if !e.st.appSeenAt.IsZero() && now.Sub(e.st.appSeenAt) < e.set.ClearGrace {
			return
		}
		e.clear()
		e.st.mode = ModeCleared
		return
	}
	e.st.appSeenAt = now

	if !e.monitor.Foreground(ctx) {
		e.idle(now)
		return
	}

	if e.st.sessionStart.IsZero() {
		e.st.sessionStart = now
	}

	var snap fcp.Snapshot
	if s := e.provider.Snapshot(ctx); s != nil {
		snap = s.Normalize()
	}
	if e.ignored(snap.Library) {
		e.clear()
		e.st.mode = ModeCleared
		return
	}
	e.active(now, snap)
}

func (e *Engine) active(now time.Time, snap fcp.Snapshot) {
	v := newActiveView(snap, e.set)
	base := v.base()
	signature := v.signature()
	timecodeChanged := v.timecode != "" && v.timecode != e.st.lastTimecode

	if timecodeChanged && e.st.lastActive && e.st.lastSignature != idleSignature &&
		base == e.st.lastBase && !e.st.lastTimelineUpdateAt.IsZero() &&
		now.Sub(e.st.lastTimelineUpdateAt) < e.set.MinTimelineUpdateInterval {
		e.metrics.TimecodeThrottled()
		logger.Trace(e.log, "timecode update throttled", "timecode", v.timecode)
		return
	}
	if e.st.lastActive && e.st.lastSignature == signature && !timecodeChanged {
		return
	}
	e.st.mode = ModeActive
	if e.st.conn != Connected {
		return
	}

	newSession := base != e.st.lastBase
	if newSession {
		e.st.sessionStart = now
	}
	details, state := v.lines(e.set)
	activity := newActivity(details, state, e.st.sessionStart.Unix(), e.set)
	if err := e.client.SetActivity(activity); err != nil {
		e.publishFailed(now, err)
		return
	}

	e.st.lastSignature = signature
	e.st.lastBase = base
	e.st.lastActive = true
	if timecodeChanged {
		e.st.lastTimecode = v.timecode
		e.st.lastTimelineUpdateAt = now
	}
	e.st.lastSnapshot = &snap
	e.st.lastProject = v.project
	e.st.lastEvent = v.event
	e.st.lastLibrary = v.library
	e.published(now, metrics.KindActive, details, state)
	if newSession {
		e.log.Info("presence active", "snapshot", snap)
	} else {
		e.log.Debug("presence updated", "details", details)
	}
}

func (e *Engine) idle(now time.Time) {
	e.st.mode = ModeIdle
	if e.st.lastActive && e.st.lastSignature == idleSignature {
		return
	}
	if e.st.sessionStart.IsZero() {
		e.st.sessionStart = now
	}
	details, state, library := idleLines(&e.st, e.set)
	if e.ignored(library) {
		e.clear()
		e.st.mode = ModeCleared
		return
	}
	if e.st.conn != Connected {
		return
	}

	activity := newActivity(details, state, e.st.sessionStart.Unix(), e.set)
	if err := e.client.SetActivity(activity); err != nil {
		e.publishFailed(now, err)
		return
	}
	e.st.lastSignature = idleSignature
	e.st.lastActive = true
	e.published(now, metrics.KindIdle, details, state)
	e.log.Info("presence idle")
}

// clear removes the shown presence, if any, and forgets what was shown.
// A failed clear is not retried; the reconnect cycle recovers.
func (e *Engine) clear() {
	if e.st.lastActive && e.st.conn == Connected {
		if err := e.client.ClearActivity(); err != nil {
			e.log.Debug("clear failed", "error", err)
			e.metrics.PublishFailed()
			e.fault(e.now(), err)
		} else {
			e.metrics.Published(metrics.KindClear)
			e.st.lastPublishAt = e.now()
			e.log.Info("presence cleared")
		}
	}
	e.st.forget()
}

func (e *Engine) ignored(library string) bool {
	return library != "" && e.set.IgnoreLibrary != nil && e.set.IgnoreLibrary(library)
}

func (e *Engine) published(now time.Time, kind, details, state string) {
	e.st.lastDetails = details
	e.st.lastState = state
	e.st.lastPublishAt = now
	e.st.lastError = ""
	e.metrics.Published(kind)
}

func (e *Engine) publishFailed(now time.Time, err error) {
	e.metrics.PublishFailed()
	e.log.Warn("publish failed", "error", err)
	e.fault(now, err)
}

// ///////////////////////////////////////////////
// Connection
// ///////////////////////////////////////////////

func (e *Engine) ensureConnected(ctx context.Context, now time.Time) {
	if e.st.conn == Connected || now.Before(e.st.nextReconnectAt) {
		return
	}
	e.st.conn = Connecting
	err := e.client.Connect(ctx)
	e.metrics.ConnectAttempt(err == nil)
	if err != nil {
		e.st.conn = Disconnected
		e.st.nextReconnectAt = now.Add(e.set.ReconnectInterval)
		e.st.lastError = err.Error()
		e.st.connectFailures++
		if e.st.connectFailures == 1 {
			e.log.Info("discord unavailable", "error", err, "retry_in", e.set.ReconnectInterval)
		} else {
			e.log.Debug("discord still unavailable", "error", err, "attempts", e.st.connectFailures)
		}
		return
	}
	e.st.conn = Connected
	e.st.connectFailures = 0
	e.st.lastActive = false
	e.st.lastError = ""
	e.log.Info("discord connected")
}

// fault marks the connection as lost and schedules a reconnect.
func (e *Engine) fault(now time.Time, err error) {
	if err != nil {
		e.st.lastError = err.Error()
	}
	e.st.conn = Disconnected
	e.st.lastActive = false
	e.st.nextReconnectAt = now.Add(e.set.ReconnectInterval)
}

func (e *Engine) drainEvents() {
	events := e.client.Events()
	for {
		select {
		case ev := <-events:
			e.handleEvent(ev)
		default:
			return
		}
	}
}

func (e *Engine) handleEvent(ev discord.Event) {
	switch ev.Kind {
	case discord.EventDisconnect:
		if e.st.conn != Connected {
			return
		}
		e.log.Warn("discord connection lost", "error", ev.Err)
		e.fault(e.now(), ev.Err)
	case discord.EventError:
		if ev.Nonce == "" {
			e.log.Warn("discord error", "code", ev.Code, "message", ev.Message)
			if e.st.conn == Connected {
				e.fault(e.now(), &discord.RPCError{Code: ev.Code, Message: ev.Message})
			}
			return
		}
		e.log.Warn("discord rejected command", "cmd", ev.Cmd, "code", ev.Code, "message", ev.Message)
		e.st.lastError = ev.Message
	case discord.EventResponse:
		logger.Trace(e.log, "discord response", "cmd", ev.Cmd, "nonce", ev.Nonce)
	case discord.EventConnect:
		logger.Trace(e.log, "discord handshake complete")
	}
}

func (e *Engine) publishStatus() {
	e.status.Store(e.st.status(e.now()))
	e.metrics.SetState(e.st.conn == Connected, e.st.mode.String())
}
