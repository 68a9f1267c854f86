// Package discord provides a client for Discord's local IPC socket,
// enabling Rich Presence updates via the SET_ACTIVITY command.
//
// The [Client] type manages the connection lifecycle, command framing and a
// background reader that turns inbound frames into [Event] values. Socket
// discovery is handled by socket.go.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// Timestamps holds the start timestamp for an activity.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
}

// Assets holds image keys and tooltip text for an activity.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Activity represents a Discord Rich Presence activity.
type Activity struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Instance   bool        `json:"instance"`
	Type       int         `json:"type"`
	Platform   string      `json:"platform,omitempty"`
}

// setActivityArgs is the args object of SET_ACTIVITY. A nil Activity
// serializes as null, which clears the presence.
type setActivityArgs struct {
	PID      int       `json:"pid"`
	Activity *Activity `json:"activity"`
}

// ///////////////////////////////////////////////
// Events
// ///////////////////////////////////////////////

// EventKind identifies what an [Event] reports.
type EventKind int

const (
	// EventConnect is emitted after a successful handshake.
	EventConnect EventKind = iota
	// EventDisconnect is emitted when Discord hangs up or the socket fails.
	EventDisconnect
	// EventError carries an ERROR event sent by Discord.
	EventError
	// EventResponse carries any other inbound frame.
	EventResponse
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	case EventResponse:
		return "response"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a notification from the client's background reader.
type Event struct {
	Kind EventKind
	// Code and Message are set for EventError and for a close frame.
	Code    int
	Message string
	// Cmd and Nonce identify the command an EventResponse or EventError answers.
	Cmd   string
	Nonce string
	// Payload is the raw data object of an EventResponse.
	Payload json.RawMessage
	// Err is the cause of an EventDisconnect.
	Err error
}

// eventBuffer bounds queued events; older consumers that fall behind lose
// events rather than stalling the reader.
const eventBuffer = 32

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// DefaultTimeout bounds dialing, the handshake and each write.
const DefaultTimeout = 3 * time.Second

// Dialer opens a connection to Discord and reports the socket path used.
type Dialer func(ctx context.Context) (net.Conn, string, error)

// Option configures a [Client].
type Option func(*Client)

// WithSocketPath pins the client to a single socket instead of discovery.
func WithSocketPath(path string) Option {
	return func(c *Client) { c.socketPath = path }
}

// WithDialer replaces socket discovery entirely.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithTimeout sets the dial, handshake and write timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPID sets the pid reported with each activity.
func WithPID(pid int) Option {
	return func(c *Client) { c.pid = pid }
}

// Client manages a connection to Discord's IPC socket.
type Client struct {
	// appID is the Discord application (OAuth2 client) identifier.
	appID string
	// socketPath pins the socket when non-empty.
	socketPath string
	// dial opens the underlying connection.
	dial Dialer
	// timeout bounds blocking socket operations.
	timeout time.Duration
	// pid is reported to Discord with every SET_ACTIVITY.
	pid int
	log *slog.Logger

	// events receives reader notifications; never closed.
	events chan Event

	// mu protects conn and path.
	mu sync.Mutex
	// conn is the active IPC socket connection, or nil when disconnected.
	conn net.Conn
	// path is the socket conn was dialed on.
	path string

	// wmu serializes frame writes between commands and pong replies.
	wmu sync.Mutex
	// readers tracks background reader goroutines.
	readers sync.WaitGroup
}

// NewClient creates a new Discord IPC client for the given application ID.
func NewClient(appID string, opts ...Option) *Client {
	c := &Client{
		appID:   appID,
		timeout: DefaultTimeout,
		pid:     os.Getpid(),
		log:     slog.Default(),
		events:  make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context) (net.Conn, string, error) {
			return dialDiscord(ctx, c.socketPath, c.timeout)
		}
	}
	return c
}

// Events returns the channel of reader notifications.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect establishes a connection to Discord, performs the handshake and
// waits for READY. Any previous connection is dropped first. Failures are
// returned as *ConnectionError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	old := c.conn
	c.conn, c.path = nil, ""
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn, path, err := c.dial(ctx)
	if err != nil {
		return &ConnectionError{Path: path, Err: err}
	}
	if err := c.handshake(conn); err != nil {
		conn.Close()
		return &ConnectionError{Path: path, Err: err}
	}

	c.mu.Lock()
	c.conn, c.path = conn, path
	c.mu.Unlock()

	c.readers.Add(1)
	go c.readLoop(conn)

	c.log.Debug("connected to discord", "socket", path)
	c.emit(Event{Kind: EventConnect})
	return nil
}

// SetActivity sends a SET_ACTIVITY command to Discord.
func (c *Client) SetActivity(activity *Activity) error {
	return c.send("SET_ACTIVITY", setActivityArgs{PID: c.pid, Activity: activity})
}

// ClearActivity sends a SET_ACTIVITY command with a null activity.
func (c *Client) ClearActivity() error {
	return c.send("SET_ACTIVITY", setActivityArgs{PID: c.pid})
}

// Close drops the connection and waits for the reader to exit. It does not
// clear the activity; Discord removes it when the socket closes.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn, c.path = nil, ""
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.readers.Wait()
	return err
}

// Connected reports whether the client has an active connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SocketPath returns the path of the active connection, or "".
func (c *Client) SocketPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// ///////////////////////////////////////////////
// Protocol
// ///////////////////////////////////////////////

// handshake sends the handshake frame and reads until Discord answers with
// READY, an ERROR event or a close frame.
func (c *Client) handshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("setting handshake deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	hello := map[string]any{"v": 1, "client_id": c.appID}
	if err := WriteJSON(conn, OpHandshake, hello); err != nil {
		return err
	}

	for {
		opcode, payload, err := DecodeFrame(conn)
		if err != nil {
			return fmt.Errorf("reading handshake response: %w", err)
		}
		switch opcode {
		case OpPing:
			if err := c.writeFrame(conn, OpPong, payload); err != nil {
				return err
			}
		case OpClose:
			d := decodeError(payload)
			return fmt.Errorf("handshake rejected: %w", &RPCError{Code: d.Code, Message: d.Message})
		case OpFrame:
			var m message
			if err := json.Unmarshal(payload, &m); err != nil {
				return fmt.Errorf("parsing handshake response: %w", err)
			}
			switch m.Evt {
			case "READY":
				return nil
			case "ERROR":
				d := decodeError(m.Data)
				return fmt.Errorf("handshake rejected: %w", &RPCError{Code: d.Code, Message: d.Message})
			}
			c.log.Debug("ignoring frame before READY", "cmd", m.Cmd, "evt", m.Evt)
		default:
			return fmt.Errorf("unexpected handshake response opcode: %s", opcode)
		}
	}
}

// send writes a command frame tagged with a fresh nonce. A write failure
// drops the connection.
func (c *Client) send(cmd string, args any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &PublishError{Cmd: cmd, Err: ErrNotConnected}
	}

	m := message{Cmd: cmd, Nonce: "sync;" + uuid.NewString(), Args: args}
	payload, err := json.Marshal(m)
	if err != nil {
		return &PublishError{Cmd: cmd, Err: fmt.Errorf("marshaling command: %w", err)}
	}
	if err := c.writeFrame(conn, OpFrame, payload); err != nil {
		c.drop(conn)
		return &PublishError{Cmd: cmd, Err: err}
	}
	return nil
}

// writeFrame writes one frame under the write lock with a deadline.
func (c *Client) writeFrame(conn net.Conn, opcode Opcode, payload []byte) error {
	frame, err := EncodeFrame(opcode, payload)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	defer conn.SetWriteDeadline(time.Time{})
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", opcode, err)
	}
	return nil
}

// readLoop decodes inbound frames until the connection fails, answering pings
// and turning everything else into events.
func (c *Client) readLoop(conn net.Conn) {
	defer c.readers.Done()
	for {
		opcode, payload, err := DecodeFrame(conn)
		if err != nil {
			c.lost(conn, err)
			return
		}

		switch opcode {
		case OpPing:
			if err := c.writeFrame(conn, OpPong, payload); err != nil {
				c.lost(conn, err)
				return
			}
		case OpPong:
		case OpClose:
			d := decodeError(payload)
			c.lost(conn, &RPCError{Code: d.Code, Message: d.Message})
			return
		case OpFrame:
			var m message
			if err := json.Unmarshal(payload, &m); err != nil {
				c.log.Warn("discarding malformed frame", "error", err)
				continue
			}
			if m.Evt == "ERROR" {
				d := decodeError(m.Data)
				c.emit(Event{Kind: EventError, Code: d.Code, Message: d.Message, Cmd: m.Cmd, Nonce: m.Nonce})
				continue
			}
			c.emit(Event{Kind: EventResponse, Cmd: m.Cmd, Nonce: m.Nonce, Payload: m.Data})
		default:
			c.log.Debug("ignoring frame", "opcode", opcode)
		}
	}
}

// drop forgets conn if it is still current and closes it. Reports whether
// conn was current.
func (c *Client) drop(conn net.Conn) bool {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn, c.path = nil, ""
	}
	c.mu.Unlock()
	conn.Close()
	return current
}

// lost handles the reader observing a dead connection. Connections replaced
// or closed locally produce no event.
func (c *Client) lost(conn net.Conn, cause error) {
	if !c.drop(conn) {
		return
	}
	ev := Event{Kind: EventDisconnect, Err: cause}
	if rpc, ok := cause.(*RPCError); ok {
		ev.Code, ev.Message = rpc.Code, rpc.Message
	}
	c.log.Info("discord connection lost", "error", cause)
	c.emit(ev)
}

// emit queues ev without blocking.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("dropping discord event", "kind", ev.Kind)
	}
}
