package roomcast

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ugorji/go/codec"
)

// MaxMessageSize is the largest datagram the protocol exchanges.
const MaxMessageSize = 1500

// Serializer turns a Message into a single datagram payload and back.
type Serializer interface {
	Name() string
	Encode(*Message) ([]byte, error)
	Decode([]byte) (*Message, error)
}

// wireMessage mirrors Message with a mandatory Why: a record without it is not
// a protocol message at all.
type wireMessage struct {
	Who   string `codec:"Who"`
	What  string `codec:"What"`
	When  string `codec:"When"`
	Where int    `codec:"Where"`
	Why   *Kind  `codec:"Why"`
}

var (
	jsonHandle    = &codec.JsonHandle{}
	msgpackHandle = &codec.MsgpackHandle{}
)

func init() {
	jsonHandle.HTMLCharsAsIs = true
	msgpackHandle.RawToString = true
	msgpackHandle.WriteExt = true
}

func encode(h codec.Handle, m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	var b []byte
	if err := codec.NewEncoderBytes(&b, h).Encode(m); err != nil {
		return nil, err
	}
	if len(b) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(b))
	}
	return b, nil
}

func decode(h codec.Handle, data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, malformed(errors.New("empty datagram"))
	}
	if len(data) > MaxMessageSize {
		return nil, malformed(fmt.Errorf("%d bytes exceeds %d", len(data), MaxMessageSize))
	}
	var w wireMessage
	if err := codec.NewDecoderBytes(data, h).Decode(&w); err != nil {
		return nil, malformed(err)
	}
	if w.Why == nil {
		return nil, malformed(errors.New("missing Why field"))
	}
	return &Message{
		Who:   w.Who,
		What:  w.What,
		When:  w.When,
		Where: w.Where,
		Why:   *w.Why,
	}, nil
}

// JsonSerializer is the default wire format, compatible with existing
// clients' {"Who","What","When","Where","Why"} records.
type JsonSerializer struct{}

func (s *JsonSerializer) Name() string {
	return "json"
}

func (s *JsonSerializer) Encode(m *Message) ([]byte, error) {
	return encode(jsonHandle, m)
}

// Decode ignores NUL and whitespace padding after the record, as senders may
// ship a fixed-size buffer.
func (s *JsonSerializer) Decode(data []byte) (*Message, error) {
	return decode(jsonHandle, bytes.TrimRight(data, "\x00 \t\r\n"))
}

// MsgPackSerializer encodes messages as msgpack maps keyed by field name.
type MsgPackSerializer struct{}

func (s *MsgPackSerializer) Name() string {
	return "msgpack"
}

func (s *MsgPackSerializer) Encode(m *Message) ([]byte, error) {
	return encode(msgpackHandle, m)
}

// Decode reads a single msgpack value; anything after it is padding.
func (s *MsgPackSerializer) Decode(data []byte) (*Message, error) {
	return decode(msgpackHandle, data)
}

// SerializerByName returns the serializer registered under name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return &JsonSerializer{}, nil
	case "msgpack":
		return &MsgPackSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
