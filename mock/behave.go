package mock

import (
	"context"
	"fmt"
	"testing"

	"github.com/exelr/roomcast"
	"github.com/smartystreets/goconvey/convey"
)

// SessionBehave drives a session against a mock transport and presenter with
// goconvey Given/When/Then blocks.
type SessionBehave struct {
	t         *testing.T
	Transport *Transport
	Presenter *Presenter
	Session   *roomcast.Session
}

func NewSessionBehave(t *testing.T) *SessionBehave {
	return &SessionBehave{t: t}
}

// Given builds a fresh session for every convey path and starts it.
func (sb *SessionBehave) Given(desc string, username string, f func(), opts ...roomcast.Option) {
	convey.Convey("Given "+desc, sb.t, func() {
		sb.Transport = NewTransport()
		sb.Presenter = NewPresenter()
		var all = append([]roomcast.Option{roomcast.WithPresenter(sb.Presenter)}, opts...)
		sb.Session = roomcast.NewSession(username, sb.Transport, all...)
		convey.So(sb.Session.Start(context.Background()), convey.ShouldBeNil)
		convey.Reset(func() {
			_ = sb.Session.Shutdown(context.Background())
		})
		f()
	})
}

// WhenServerSends dispatches msg synchronously, as the receive loop would.
func (sb *SessionBehave) WhenServerSends(msg *roomcast.Message, f ...func(err error)) {
	var err = sb.Session.Dispatch(msg)
	convey.Convey(fmt.Sprintf("When the server sends %s", msg), func() {
		if len(f) > 0 {
			f[0](err)
		} else {
			convey.So(err, convey.ShouldBeNil)
		}
	})
}

func (sb *SessionBehave) ThenPresenterShouldReceive(info string, event roomcast.Event) {
	convey.Convey(fmt.Sprintf("Then the presenter should receive %s (%s)", event.GetEventName(), info), func() {
		convey.So(sb.Presenter.HasEvent(event), convey.ShouldBeTrue)
	})
}

func (sb *SessionBehave) ThenActiveRoomsShouldBe(rooms ...roomcast.Room) {
	convey.Convey(fmt.Sprintf("Then the active rooms should be %v", rooms), func() {
		if len(rooms) == 0 {
			convey.So(sb.Session.ActiveRooms(), convey.ShouldBeEmpty)
			return
		}
		convey.So(sb.Session.ActiveRooms(), convey.ShouldResemble, rooms)
	})
}

func (sb *SessionBehave) ThenNothingShouldBeSent(kind roomcast.Kind) {
	convey.Convey(fmt.Sprintf("Then no %s should be sent", kind), func() {
		convey.So(sb.Transport.SentOf(kind), convey.ShouldBeEmpty)
	})
}
