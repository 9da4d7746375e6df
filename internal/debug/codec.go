package debug

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// MaxFrameSize bounds a single message.
const MaxFrameSize = 1 << 20

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func typeOf(msg any) (string, error) {
	switch msg.(type) {
	case DebuggerInit, *DebuggerInit:
		return TypeDebuggerInit, nil
	case DebugOp, *DebugOp:
		return TypeDebugOp, nil
	case ExecutionPaused, *ExecutionPaused:
		return TypeExecutionPaused, nil
	case ExecutionReleased, *ExecutionReleased:
		return TypeExecutionReleased, nil
	}
	return "", fmt.Errorf("unsupported message %T", msg)
}

// Encoder writes length-prefixed messages. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message: a 4-byte big-endian length followed by the
// JSON envelope.
func (e *Encoder) Encode(msg any) error {
	typ, err := typeOf(msg)
	if err != nil {
		return autoflowerrors.NewProtocolError("encode", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return autoflowerrors.NewProtocolError("encode", err)
	}
	frame, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		return autoflowerrors.NewProtocolError("encode", err)
	}
	if len(frame) > MaxFrameSize {
		return autoflowerrors.NewProtocolError("encode", fmt.Errorf("frame of %d bytes exceeds limit", len(frame)))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(header[:]); err != nil {
		return autoflowerrors.NewProtocolError("write", err)
	}
	if _, err := e.w.Write(frame); err != nil {
		return autoflowerrors.NewProtocolError("write", err)
	}
	return nil
}

// Decoder reads length-prefixed messages.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads one message and returns it as a value of its concrete type.
// io.EOF is returned unwrapped when the stream ends between frames.
func (d *Decoder) Decode() (any, error) {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, autoflowerrors.NewProtocolError("read", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > MaxFrameSize {
		return nil, autoflowerrors.NewProtocolError("read", fmt.Errorf("invalid frame size %d", size))
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(d.r, frame); err != nil {
		return nil, autoflowerrors.NewProtocolError("read", err)
	}

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, autoflowerrors.NewProtocolError("decode", err)
	}

	var (
		msg any
		err error
	)
	switch env.Type {
	case TypeDebuggerInit:
		var m DebuggerInit
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypeDebugOp:
		var m DebugOp
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypeExecutionPaused:
		var m ExecutionPaused
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case TypeExecutionReleased:
		var m ExecutionReleased
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	default:
		return nil, autoflowerrors.NewProtocolError("decode", fmt.Errorf("unknown message type %q", env.Type))
	}
	if err != nil {
		return nil, autoflowerrors.NewProtocolError("decode", err)
	}
	return msg, nil
}
