package roomcast

// Presenter consumes what the session observes. Calls never overlap and only
// carry copies. They come from the dispatch goroutine, except that ChannelLost
// comes from the receive goroutine and JoinRoom or LeaveRoom notify on the
// caller's goroutine. A presenter may send chat from a callback but must not
// call JoinRoom or LeaveRoom from one.
type Presenter interface {
	ChatLine(text string, roomID int)
	RoomAdded(header string, roomID int)
	RoomRemoved(header string, roomID int)
	RoomsSynced(available []Room)
}

// ChannelLostObserver is implemented by presenters that want to know when the
// receive loop gave up, e.g. to offer a reconnect.
type ChannelLostObserver interface {
	ChannelLost(err error)
}

// ErrorObserver is implemented by presenters that want the non-fatal errors
// the session logs (bad datagrams, protocol errors, failed sends).
type ErrorObserver interface {
	ErrorReported(err error)
}

type Event interface {
	GetEventName() string
}

type ChatLineEvent struct {
	Room int    `json:"room"`
	Text string `json:"text"`
}

func (*ChatLineEvent) GetEventName() string {
	return "chat.line"
}

type RoomAddedEvent struct {
	Room Room `json:"room"`
}

func (*RoomAddedEvent) GetEventName() string {
	return "room.added"
}

type RoomRemovedEvent struct {
	Room Room `json:"room"`
}

func (*RoomRemovedEvent) GetEventName() string {
	return "room.removed"
}

type RoomsSyncedEvent struct {
	Rooms []Room `json:"rooms"`
}

func (*RoomsSyncedEvent) GetEventName() string {
	return "rooms.synced"
}

type ChannelLostEvent struct {
	Error string `json:"error"`
}

func (*ChannelLostEvent) GetEventName() string {
	return "channel.lost"
}

type ErrorEvent struct {
	Error string `json:"error"`
}

func (*ErrorEvent) GetEventName() string {
	return "error"
}

// EventPresenter adapts a single event callback to the Presenter interface,
// including both optional observers.
type EventPresenter func(Event)

func (f EventPresenter) ChatLine(text string, roomID int) {
	f(&ChatLineEvent{Room: roomID, Text: text})
}

func (f EventPresenter) RoomAdded(header string, roomID int) {
	f(&RoomAddedEvent{Room: Room{ID: roomID, Header: header}})
}

func (f EventPresenter) RoomRemoved(header string, roomID int) {
	f(&RoomRemovedEvent{Room: Room{ID: roomID, Header: header}})
}

func (f EventPresenter) RoomsSynced(available []Room) {
	f(&RoomsSyncedEvent{Rooms: available})
}

func (f EventPresenter) ChannelLost(err error) {
	f(&ChannelLostEvent{Error: err.Error()})
}

func (f EventPresenter) ErrorReported(err error) {
	f(&ErrorEvent{Error: err.Error()})
}

type multiPresenter []Presenter

// Fanout delivers every call to each presenter in order. RoomsSynced slices
// are copied per presenter.
func Fanout(presenters ...Presenter) Presenter {
	return multiPresenter(presenters)
}

func (mp multiPresenter) ChatLine(text string, roomID int) {
	for _, p := range mp {
		p.ChatLine(text, roomID)
	}
}

func (mp multiPresenter) RoomAdded(header string, roomID int) {
	for _, p := range mp {
		p.RoomAdded(header, roomID)
	}
}

func (mp multiPresenter) RoomRemoved(header string, roomID int) {
	for _, p := range mp {
		p.RoomRemoved(header, roomID)
	}
}

func (mp multiPresenter) RoomsSynced(available []Room) {
	for _, p := range mp {
		p.RoomsSynced(append([]Room(nil), available...))
	}
}

func (mp multiPresenter) ChannelLost(err error) {
	for _, p := range mp {
		if o, ok := p.(ChannelLostObserver); ok {
			o.ChannelLost(err)
		}
	}
}

func (mp multiPresenter) ErrorReported(err error) {
	for _, p := range mp {
		if o, ok := p.(ErrorObserver); ok {
			o.ErrorReported(err)
		}
	}
}
