package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/exelr/roomcast"
)

var _ roomcast.Transport = (*Transport)(nil)

type RecordedSend struct {
	Message *roomcast.Message
	Sync    bool
}

// Transport records outbound messages and lets a test play the server side
// with Deliver and Fail.
type Transport struct {
	mx           sync.Mutex
	sent         []RecordedSend
	errorHandler func(error)
	closeCount   int
	closeOnce    sync.Once
	closed       chan struct{}
	inbound      chan *roomcast.Message
	failures     chan error

	// SyncErr is returned by SendSync when set.
	SyncErr error
	// SendErr makes every Send fail when set.
	SendErr error
}

func NewTransport() *Transport {
	return &Transport{
		closed:   make(chan struct{}),
		inbound:  make(chan *roomcast.Message, 64),
		failures: make(chan error, 8),
	}
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Send records msg, or hands an error to the error handler on the caller's
// goroutine when the mock is closed or SendErr is set.
func (t *Transport) Send(msg *roomcast.Message) {
	t.mx.Lock()
	var handler, err = t.errorHandler, t.SendErr
	if t.isClosed() {
		err = fmt.Errorf("%w: send on closed mock", roomcast.ErrTransport)
	}
	if err == nil {
		t.sent = append(t.sent, RecordedSend{Message: msg})
	}
	t.mx.Unlock()
	if err != nil && handler != nil {
		handler(err)
	}
}

func (t *Transport) SendSync(msg *roomcast.Message) error {
	if t.isClosed() {
		return fmt.Errorf("%w: send on closed mock", roomcast.ErrTransport)
	}
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.SyncErr != nil {
		return t.SyncErr
	}
	t.sent = append(t.sent, RecordedSend{Message: msg, Sync: true})
	return nil
}

func (t *Transport) Listen(ctx context.Context, onMessage func(*roomcast.Message), onError func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.closed:
			return nil
		case msg := <-t.inbound:
			onMessage(msg)
		case err := <-t.failures:
			if errors.Is(err, roomcast.ErrChannelLost) {
				return err
			}
			onError(err)
		}
	}
}

func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.errorHandler = handler
}

func (t *Transport) Close() error {
	t.mx.Lock()
	t.closeCount++
	t.mx.Unlock()
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}

// Deliver queues msg as if the server had sent it.
func (t *Transport) Deliver(msg *roomcast.Message) {
	t.inbound <- msg
}

// Fail makes the listen loop see err. An ErrChannelLost error ends it.
func (t *Transport) Fail(err error) {
	t.failures <- err
}

func (t *Transport) Recorded() []RecordedSend {
	t.mx.Lock()
	defer t.mx.Unlock()
	return append([]RecordedSend(nil), t.sent...)
}

func (t *Transport) Sent() []*roomcast.Message {
	var ret []*roomcast.Message
	for _, rec := range t.Recorded() {
		ret = append(ret, rec.Message)
	}
	return ret
}

// SentOf returns the recorded messages of kind k.
func (t *Transport) SentOf(k roomcast.Kind) []*roomcast.Message {
	var ret []*roomcast.Message
	for _, rec := range t.Recorded() {
		if rec.Message.Why == k {
			ret = append(ret, rec.Message)
		}
	}
	return ret
}

func (t *Transport) CloseCount() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.closeCount
}

func (t *Transport) Closed() bool {
	return t.isClosed()
}
