package mock

import (
	"reflect"
	"sync"
	"time"

	"github.com/exelr/roomcast"
)

type RecordedEvent struct {
	Event     roomcast.Event
	Timestamp time.Time
}

// Presenter records every session event, observers included.
type Presenter struct {
	mx     sync.Mutex
	events []RecordedEvent
	notify chan struct{}
}

func NewPresenter() *Presenter {
	return &Presenter{
		notify: make(chan struct{}, 1),
	}
}

func (p *Presenter) record(evt roomcast.Event) {
	p.mx.Lock()
	p.events = append(p.events, RecordedEvent{
		Event:     evt,
		Timestamp: time.Now(),
	})
	p.mx.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Presenter) ChatLine(text string, roomID int) {
	roomcast.EventPresenter(p.record).ChatLine(text, roomID)
}

func (p *Presenter) RoomAdded(header string, roomID int) {
	roomcast.EventPresenter(p.record).RoomAdded(header, roomID)
}

func (p *Presenter) RoomRemoved(header string, roomID int) {
	roomcast.EventPresenter(p.record).RoomRemoved(header, roomID)
}

func (p *Presenter) RoomsSynced(available []roomcast.Room) {
	roomcast.EventPresenter(p.record).RoomsSynced(available)
}

func (p *Presenter) ChannelLost(err error) {
	roomcast.EventPresenter(p.record).ChannelLost(err)
}

func (p *Presenter) ErrorReported(err error) {
	roomcast.EventPresenter(p.record).ErrorReported(err)
}

func (p *Presenter) Recorded() []RecordedEvent {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]RecordedEvent(nil), p.events...)
}

func (p *Presenter) Reset() {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.events = nil
}

func (p *Presenter) HasEvent(event roomcast.Event) bool {
	for _, rec := range p.Recorded() {
		if rec.Event.GetEventName() == event.GetEventName() {
			if reflect.DeepEqual(event, rec.Event) {
				return true
			}
		}
	}
	return false
}

// Count returns how many recorded events carry the given name.
func (p *Presenter) Count(name string) int {
	var n int
	for _, rec := range p.Recorded() {
		if rec.Event.GetEventName() == name {
			n++
		}
	}
	return n
}

func (p *Presenter) ChatLines() []roomcast.ChatLineEvent {
	var ret []roomcast.ChatLineEvent
	for _, rec := range p.Recorded() {
		if line, ok := rec.Event.(*roomcast.ChatLineEvent); ok {
			ret = append(ret, *line)
		}
	}
	return ret
}

// WaitFor blocks until an event named name has been recorded or timeout
// passes.
func (p *Presenter) WaitFor(name string, timeout time.Duration) bool {
	var deadline = time.After(timeout)
	for {
		if p.Count(name) > 0 {
			return true
		}
		select {
		case <-p.notify:
		case <-deadline:
			return false
		}
	}
}
