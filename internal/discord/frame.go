package discord

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Opcode represents a Discord IPC frame opcode.
type Opcode uint32

const (
	// OpHandshake is the opcode for the initial IPC handshake.
	OpHandshake Opcode = 0
	// OpFrame is the opcode for a standard IPC data frame.
	OpFrame Opcode = 1
	// OpClose is sent by either side before hanging up.
	OpClose Opcode = 2
	// OpPing asks the peer to echo the payload back with OpPong.
	OpPing Opcode = 3
	// OpPong answers an OpPing.
	OpPong Opcode = 4

	// frameHeaderSize is the byte length of the IPC frame header
	// consisting of a 4-byte little-endian opcode followed by a
	// 4-byte little-endian payload length.
	frameHeaderSize = 8

	// MaxPayloadSize is the maximum allowed payload size (1 MB).
	MaxPayloadSize = 1 << 20

	// maxIPCSlots is the number of IPC socket slots Discord may listen on (0-9).
	maxIPCSlots = 10
)

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "HANDSHAKE"
	case OpFrame:
		return "FRAME"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("OPCODE(%d)", uint32(o))
	}
}

// ErrPayloadTooLarge is returned when a frame payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrIPCNotAvailable is returned when no Discord IPC socket can be reached.
var ErrIPCNotAvailable = errors.New("discord IPC not available")

// ///////////////////////////////////////////////
// Frame Encoding
// ///////////////////////////////////////////////

// EncodeFrame builds a Discord IPC frame: [4-byte LE opcode][4-byte LE length][payload].
func EncodeFrame(opcode Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(opcode))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame, nil
}

// WriteJSON marshals v and writes it to w as a single frame.
func WriteJSON(w io.Writer, opcode Opcode, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", opcode, err)
	}
	frame, err := EncodeFrame(opcode, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", opcode, err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Frame Decoding
// ///////////////////////////////////////////////

// DecodeFrame reads a single Discord IPC frame from reader.
// It handles partial reads via io.ReadFull.
func DecodeFrame(reader io.Reader) (opcode Opcode, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err = io.ReadFull(reader, header); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}

	opcode = Opcode(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, MaxPayloadSize)
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(reader, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}

	return opcode, payload, nil
}

// ///////////////////////////////////////////////
// Messages
// ///////////////////////////////////////////////

// message is the JSON envelope carried by OpFrame payloads in both directions.
type message struct {
	Cmd   string          `json:"cmd,omitempty"`
	Evt   string          `json:"evt,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
	Args  any             `json:"args,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// errorData is the data object of an ERROR event and the body of OpClose.
type errorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeError extracts code and message from raw error data. Missing or
// malformed data yields a zero code and an empty message.
func decodeError(raw []byte) errorData {
	var d errorData
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &d)
	}
	return d
}
