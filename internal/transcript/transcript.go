package transcript

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/exelr/roomcast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is one message as it crossed the wire, one YAML document each.
type Entry struct {
	At        time.Time `yaml:"at"`
	Direction Direction `yaml:"dir"`
	Kind      string    `yaml:"kind"`
	Who       string    `yaml:"who,omitempty"`
	What      string    `yaml:"what,omitempty"`
	When      string    `yaml:"when,omitempty"`
	Where     int       `yaml:"where"`
}

func (e Entry) Message() (*roomcast.Message, error) {
	var msg = &roomcast.Message{Who: e.Who, What: e.What, When: e.When, Where: e.Where}
	for k := roomcast.KindLogin; k <= roomcast.KindLeaveRoom; k++ {
		if k.String() == e.Kind {
			msg.Why = k
			return msg, nil
		}
	}
	return nil, fmt.Errorf("unknown kind %q", e.Kind)
}

// Recorder writes a YAML stream of every message seen by a transport. Each
// entry starts its own document so files can be appended to. Write failures
// are logged once and further entries are dropped.
type Recorder struct {
	mx     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
	logger *zap.Logger
	err    error
}

var _ roomcast.Tap = (*Recorder)(nil)

func NewRecorder(w io.Writer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	var rec = &Recorder{
		w:      w,
		now:    time.Now,
		logger: logger,
	}
	if c, ok := w.(io.Closer); ok {
		rec.closer = c
	}
	return rec
}

// Create appends to the transcript at path.
func Create(path string, logger *zap.Logger) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return NewRecorder(f, logger), nil
}

func (r *Recorder) Inbound(msg *roomcast.Message) {
	r.write(Inbound, msg)
}

func (r *Recorder) Outbound(msg *roomcast.Message) {
	r.write(Outbound, msg)
}

func (r *Recorder) write(dir Direction, msg *roomcast.Message) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err != nil {
		return
	}
	var entry = Entry{
		At:        r.now().UTC(),
		Direction: dir,
		Kind:      msg.Why.String(),
		Who:       msg.Who,
		What:      msg.What,
		When:      msg.When,
		Where:     msg.Where,
	}
	b, err := yaml.Marshal(&entry)
	if err == nil {
		_, err = r.w.Write(append([]byte("---\n"), b...))
	}
	if err != nil {
		r.err = err
		r.logger.Error("transcript disabled", zap.Error(err))
	}
}

func (r *Recorder) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	var err error
	if r.closer != nil && r.err != io.ErrClosedPipe {
		err = r.closer.Close()
	}
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	return err
}

// Read decodes every entry of a transcript stream.
func Read(src io.Reader) ([]Entry, error) {
	var dec = yaml.NewDecoder(src)
	var entries []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, fmt.Errorf("read transcript: %w", err)
		}
		entries = append(entries, e)
	}
}
