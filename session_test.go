package roomcast_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/exelr/roomcast"
	"github.com/exelr/roomcast/mock"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

var fixedClock = roomcast.WithClock(func() time.Time {
	return time.Date(2024, 3, 9, 9, 5, 0, 0, time.UTC)
})

func roomList(who, what string) *roomcast.Message {
	return &roomcast.Message{Who: who, What: what, Why: roomcast.KindSendPublicRooms}
}

func publicMessage(who, what string, where int) *roomcast.Message {
	return &roomcast.Message{Who: who, What: what, When: "12:00", Where: where, Why: roomcast.KindPublicMessage}
}

func TestSessionLogin(t *testing.T) {
	var sb = mock.NewSessionBehave(t)
	sb.Given("a started session", "alice", func() {
		Convey("LOGIN is sent once and carries only the username", func() {
			var logins = sb.Transport.SentOf(roomcast.KindLogin)
			So(logins, ShouldHaveLength, 1)
			So(logins[0], ShouldResemble, &roomcast.Message{Who: "alice", Why: roomcast.KindLogin})
			So(sb.Transport.Sent(), ShouldHaveLength, 1)
		})

		Convey("The session is joined optimistically", func() {
			So(sb.Session.State(), ShouldEqual, roomcast.StateJoined)
		})

		Convey("Starting twice fails", func() {
			So(sb.Session.Start(context.Background()), ShouldNotBeNil)
			So(sb.Transport.SentOf(roomcast.KindLogin), ShouldHaveLength, 1)
		})
	})

	sb.Given("a pessimistic session", "alice", func() {
		So(sb.Session.State(), ShouldEqual, roomcast.StateConnecting)
		sb.WhenServerSends(roomList("", ""))
		Convey("The first server message completes the join", func() {
			So(sb.Session.State(), ShouldEqual, roomcast.StateJoined)
		})
	}, roomcast.WithOptimisticJoin(false))
}

func TestSessionRooms(t *testing.T) {
	var sb = mock.NewSessionBehave(t)
	var lobby = roomcast.Room{ID: 1, Header: "Lobby"}
	var sports = roomcast.Room{ID: 3, Header: "Sports"}

	sb.Given("the server advertises Lobby and Sports", "alice", func() {
		sb.WhenServerSends(roomList("1,3", "Lobby,Sports"))
		sb.ThenPresenterShouldReceive("catalog", &roomcast.RoomsSyncedEvent{Rooms: []roomcast.Room{lobby, sports}})
		sb.ThenPresenterShouldReceive("lobby joined", &roomcast.RoomAddedEvent{Room: lobby})
		sb.ThenPresenterShouldReceive("sports joined", &roomcast.RoomAddedEvent{Room: sports})
		sb.ThenActiveRoomsShouldBe(lobby, sports)

		Convey("A public message for Sports is shown in Sports only", func() {
			So(sb.Session.Dispatch(publicMessage("bob", "hello", 3)), ShouldBeNil)
			So(sb.Presenter.ChatLines(), ShouldResemble, []roomcast.ChatLineEvent{
				{Room: 3, Text: "[12:00] bob : hello"},
			})
		})

		Convey("A broadcast is shown once in every active room", func() {
			So(sb.Session.Dispatch(publicMessage("srv", "maintenance", roomcast.BroadcastRoom)), ShouldBeNil)
			So(sb.Presenter.ChatLines(), ShouldResemble, []roomcast.ChatLineEvent{
				{Room: 1, Text: "[12:00] srv : maintenance"},
				{Room: 3, Text: "[12:00] srv : maintenance"},
			})
		})

		Convey("A message for a room the client is not in is dropped", func() {
			So(sb.Session.Dispatch(publicMessage("bob", "hello", 5)), ShouldBeNil)
			So(sb.Presenter.ChatLines(), ShouldBeEmpty)
		})

		Convey("A message without text is dropped", func() {
			So(sb.Session.Dispatch(publicMessage("bob", "", 1)), ShouldBeNil)
			So(sb.Presenter.ChatLines(), ShouldBeEmpty)
		})

		Convey("A repeated catalog does not duplicate active rooms", func() {
			sb.Presenter.Reset()
			So(sb.Session.Dispatch(roomList("1,3", "Lobby,Sports")), ShouldBeNil)
			So(sb.Session.ActiveRooms(), ShouldResemble, []roomcast.Room{lobby, sports})
			So(sb.Presenter.Count("room.added"), ShouldEqual, 0)
			So(sb.Presenter.Count("rooms.synced"), ShouldEqual, 1)
		})

		Convey("A mismatched catalog changes nothing", func() {
			sb.Presenter.Reset()
			var err = sb.Session.Dispatch(roomList("1,2", "A"))
			So(errors.Is(err, roomcast.ErrProtocol), ShouldBeTrue)
			So(sb.Session.AvailableRooms(), ShouldResemble, []roomcast.Room{lobby, sports})
			So(sb.Session.ActiveRooms(), ShouldResemble, []roomcast.Room{lobby, sports})
			So(sb.Presenter.Recorded(), ShouldBeEmpty)
		})

		Convey("Closing Sports removes it", func() {
			So(sb.Session.Dispatch(&roomcast.Message{What: "Sports", Where: 3, Why: roomcast.KindCloseRoom}), ShouldBeNil)
			So(sb.Presenter.HasEvent(&roomcast.RoomRemovedEvent{Room: sports}), ShouldBeTrue)
			So(sb.Session.ActiveRooms(), ShouldResemble, []roomcast.Room{lobby})
		})

		Convey("Closing with a different header is ignored", func() {
			So(sb.Session.Dispatch(&roomcast.Message{What: "Lobby", Where: 3, Why: roomcast.KindCloseRoom}), ShouldBeNil)
			So(sb.Presenter.Count("room.removed"), ShouldEqual, 0)
			So(sb.Session.ActiveRooms(), ShouldHaveLength, 2)
		})
	})

	sb.Given("an empty session", "alice", func() {
		var games = roomcast.Room{ID: 7, Header: "Games"}
		sb.WhenServerSends(&roomcast.Message{Who: "srv", What: "Games", Where: 7, Why: roomcast.KindCreatePublicRoom})
		sb.ThenPresenterShouldReceive("created room", &roomcast.RoomAddedEvent{Room: games})
		sb.ThenActiveRoomsShouldBe(games)

		Convey("Create then close leaves the rooms as they were", func() {
			So(sb.Session.Dispatch(&roomcast.Message{What: "Games", Where: 7, Why: roomcast.KindCloseRoom}), ShouldBeNil)
			So(sb.Session.ActiveRooms(), ShouldBeEmpty)
		})

		Convey("Creating the same room twice adds it once", func() {
			So(sb.Session.Dispatch(&roomcast.Message{What: "Games", Where: 7, Why: roomcast.KindCreatePublicRoom}), ShouldBeNil)
			So(sb.Presenter.Count("room.added"), ShouldEqual, 1)
			So(sb.Session.ActiveRooms(), ShouldHaveLength, 1)
		})

		Convey("Unknown and client-only kinds are ignored", func() {
			sb.Presenter.Reset()
			So(sb.Session.Dispatch(&roomcast.Message{Who: "x", Why: roomcast.Kind(999)}), ShouldBeNil)
			So(sb.Session.Dispatch(roomcast.NewLogin("bob")), ShouldBeNil)
			So(sb.Session.Dispatch(roomcast.NewUserExit("bob", time.Now())), ShouldBeNil)
			So(sb.Presenter.Recorded(), ShouldBeEmpty)
			So(sb.Session.ActiveRooms(), ShouldHaveLength, 1)
		})
	})
}

// replyingPresenter answers every chat line from inside the callback.
type replyingPresenter struct {
	*mock.Presenter
	session *roomcast.Session
}

func (p *replyingPresenter) ChatLine(text string, roomID int) {
	p.Presenter.ChatLine(text, roomID)
	_ = p.session.SendChat("auto reply", roomID)
}

func TestSessionPresenterSends(t *testing.T) {
	Convey("Given a presenter that replies to chat over a failing transport", t, func() {
		var tr = mock.NewTransport()
		tr.SendErr = fmt.Errorf("%w: outbound queue full", roomcast.ErrTransport)
		var p = &replyingPresenter{Presenter: mock.NewPresenter()}
		var s = roomcast.NewSession("alice", tr, roomcast.WithPresenter(p), fixedClock)
		p.session = s
		So(s.Start(context.Background()), ShouldBeNil)

		Convey("The failed reply is reported and dispatch keeps going", func() {
			tr.Deliver(roomList("1", "Lobby"))
			tr.Deliver(publicMessage("bob", "hello", 1))
			So(p.WaitFor("error", time.Second), ShouldBeTrue)

			tr.Deliver(publicMessage("bob", "again", 1))
			So(p.WaitFor("chat.line", time.Second), ShouldBeTrue)
			var deadline = time.Now().Add(time.Second)
			for len(p.ChatLines()) < 2 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			So(p.ChatLines(), ShouldHaveLength, 2)

			var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			So(s.Shutdown(ctx), ShouldBeNil)
		})
	})
}

func TestSessionScenario(t *testing.T) {
	var sb = mock.NewSessionBehave(t)
	sb.Given("the server pushes Lobby and Sports", "alice", func() {
		sb.WhenServerSends(roomList("1,2", "Lobby,Sports"))
		sb.ThenActiveRoomsShouldBe(roomcast.Room{ID: 1, Header: "Lobby"}, roomcast.Room{ID: 2, Header: "Sports"})

		Convey("When Lobby is closed", func() {
			So(sb.Session.Dispatch(&roomcast.Message{What: "Lobby", Where: 1, Why: roomcast.KindCloseRoom}), ShouldBeNil)
			So(sb.Session.ActiveRooms(), ShouldResemble, []roomcast.Room{{ID: 2, Header: "Sports"}})
			So(sb.Session.AvailableRooms(), ShouldHaveLength, 2)
		})
	})
}

func TestSessionSend(t *testing.T) {
	var sb = mock.NewSessionBehave(t)
	sb.Given("a session in Lobby", "alice", func() {
		So(sb.Session.Dispatch(roomList("1", "Lobby")), ShouldBeNil)

		Convey("Chat goes to the room with the username and a display time", func() {
			So(sb.Session.SendChat("hi", 1), ShouldBeNil)
			var sent = sb.Transport.SentOf(roomcast.KindPublicMessage)
			So(sent, ShouldHaveLength, 1)
			So(sent[0], ShouldResemble, &roomcast.Message{Who: "alice", What: "hi", When: "09:05", Where: 1, Why: roomcast.KindPublicMessage})
		})

		Convey("Sent chat is not echoed locally", func() {
			So(sb.Session.SendChat("hi", 1), ShouldBeNil)
			So(sb.Presenter.ChatLines(), ShouldBeEmpty)
		})

		Convey("Empty text is not sent", func() {
			So(sb.Session.SendChat("", 1), ShouldEqual, roomcast.ErrEmptyMessage)
			So(sb.Transport.SentOf(roomcast.KindPublicMessage), ShouldBeEmpty)
		})

		Convey("A room the client is not in is refused", func() {
			So(errors.Is(sb.Session.SendChat("hi", 5), roomcast.ErrNoRoomSelected), ShouldBeTrue)
			So(sb.Transport.SentOf(roomcast.KindPublicMessage), ShouldBeEmpty)
		})

		Convey("Without a selection SendChatMessage sends nothing", func() {
			So(sb.Session.SendChatMessage("hi"), ShouldEqual, roomcast.ErrNoRoomSelected)
			So(sb.Transport.SentOf(roomcast.KindPublicMessage), ShouldBeEmpty)
		})

		Convey("With Lobby selected SendChatMessage targets it", func() {
			So(sb.Session.SelectRoomByHeader("Lobby"), ShouldBeNil)
			So(sb.Session.SendChatMessage("hey"), ShouldBeNil)
			So(sb.Transport.SentOf(roomcast.KindPublicMessage)[0].Where, ShouldEqual, 1)

			Convey("Closing the selected room clears the selection", func() {
				So(sb.Session.Dispatch(&roomcast.Message{What: "Lobby", Where: 1, Why: roomcast.KindCloseRoom}), ShouldBeNil)
				_, ok := sb.Session.SelectedRoom()
				So(ok, ShouldBeFalse)
			})
		})

		Convey("Selecting an unknown room fails", func() {
			So(errors.Is(sb.Session.SelectRoom(42), roomcast.ErrRoomNotFound), ShouldBeTrue)
			So(errors.Is(sb.Session.SelectRoomByHeader("Nope"), roomcast.ErrRoomNotFound), ShouldBeTrue)
		})
	}, fixedClock)
}

func TestSessionExplicitJoin(t *testing.T) {
	var sb = mock.NewSessionBehave(t)
	sb.Given("a session without auto-join", "alice", func() {
		So(sb.Session.Dispatch(roomList("1,3", "Lobby,Sports")), ShouldBeNil)
		So(sb.Session.ActiveRooms(), ShouldBeEmpty)
		So(sb.Session.AvailableRooms(), ShouldHaveLength, 2)

		Convey("Joining an advertised room activates it and tells the server", func() {
			So(sb.Session.JoinRoom(3), ShouldBeNil)
			So(sb.Session.ActiveRooms(), ShouldResemble, []roomcast.Room{{ID: 3, Header: "Sports"}})
			var joins = sb.Transport.SentOf(roomcast.KindJoinRoom)
			So(joins, ShouldHaveLength, 1)
			So(joins[0].Where, ShouldEqual, 3)
			So(joins[0].Who, ShouldEqual, "alice")

			Convey("Leaving it deactivates it and tells the server", func() {
				So(sb.Session.LeaveRoom(3), ShouldBeNil)
				So(sb.Session.ActiveRooms(), ShouldBeEmpty)
				So(sb.Transport.SentOf(roomcast.KindLeaveRoom), ShouldHaveLength, 1)
			})

			Convey("Joining it again fails without a second JOIN_ROOM", func() {
				So(errors.Is(sb.Session.JoinRoom(3), roomcast.ErrDuplicateRoom), ShouldBeTrue)
				So(sb.Transport.SentOf(roomcast.KindJoinRoom), ShouldHaveLength, 1)
			})
		})

		Convey("Joining a room never advertised fails", func() {
			So(errors.Is(sb.Session.JoinRoom(9), roomcast.ErrRoomNotAdvertised), ShouldBeTrue)
			So(sb.Transport.SentOf(roomcast.KindJoinRoom), ShouldBeEmpty)
		})

		Convey("Leaving a room the client is not in fails", func() {
			So(errors.Is(sb.Session.LeaveRoom(1), roomcast.ErrRoomNotFound), ShouldBeTrue)
			So(sb.Transport.SentOf(roomcast.KindLeaveRoom), ShouldBeEmpty)
		})
	}, roomcast.WithAutoJoin(false))
}

func TestSessionLifecycle(t *testing.T) {
	Convey("Given a session that was never started", t, func() {
		var tr = mock.NewTransport()
		var s = roomcast.NewSession("alice", tr)
		So(s.State(), ShouldEqual, roomcast.StateDisconnected)

		Convey("Sending is refused", func() {
			So(s.SendChat("hi", 1), ShouldEqual, roomcast.ErrSessionNotStarted)
			So(s.SendChatMessage("hi"), ShouldEqual, roomcast.ErrSessionNotStarted)
			So(s.JoinRoom(1), ShouldEqual, roomcast.ErrSessionNotStarted)
			So(tr.Sent(), ShouldBeEmpty)
		})

		Convey("Shutdown closes the transport without USEREXIT", func() {
			So(s.Shutdown(context.Background()), ShouldBeNil)
			So(tr.Sent(), ShouldBeEmpty)
			So(tr.Closed(), ShouldBeTrue)
			So(s.Start(context.Background()), ShouldEqual, roomcast.ErrSessionClosed)
		})
	})

	Convey("Given a started session", t, func() {
		var tr = mock.NewTransport()
		var p = mock.NewPresenter()
		var s = roomcast.NewSession("alice", tr, roomcast.WithPresenter(p), fixedClock)
		So(s.Start(context.Background()), ShouldBeNil)

		Convey("Messages delivered by the transport reach the presenter", func() {
			tr.Deliver(roomList("1", "Lobby"))
			tr.Deliver(publicMessage("bob", "hello", 1))
			So(p.WaitFor("chat.line", time.Second), ShouldBeTrue)
			So(p.ChatLines(), ShouldResemble, []roomcast.ChatLineEvent{{Room: 1, Text: "[12:00] bob : hello"}})
			So(s.Shutdown(context.Background()), ShouldBeNil)
		})

		Convey("Shutdown sends USEREXIT synchronously and closes the transport", func() {
			So(s.Shutdown(context.Background()), ShouldBeNil)
			var recorded = tr.Recorded()
			So(recorded, ShouldHaveLength, 2)
			So(recorded[1].Sync, ShouldBeTrue)
			So(recorded[1].Message, ShouldResemble, &roomcast.Message{Who: "alice", When: "09:05", Where: roomcast.NoRoom, Why: roomcast.KindUserExit})
			So(tr.Closed(), ShouldBeTrue)
			So(s.State(), ShouldEqual, roomcast.StateClosed)

			Convey("A second shutdown does nothing", func() {
				So(s.Shutdown(context.Background()), ShouldBeNil)
				So(tr.SentOf(roomcast.KindUserExit), ShouldHaveLength, 1)
				So(tr.CloseCount(), ShouldEqual, 1)
			})

			Convey("Nothing can be sent or dispatched afterwards", func() {
				So(s.SendChat("hi", 1), ShouldEqual, roomcast.ErrSessionClosed)
				So(s.Dispatch(roomList("1", "Lobby")), ShouldEqual, roomcast.ErrSessionClosed)
				So(s.ActiveRooms(), ShouldBeEmpty)
			})
		})

		Convey("A failed USEREXIT still closes the session", func() {
			tr.SyncErr = fmt.Errorf("%w: boom", roomcast.ErrTransport)
			var err = s.Shutdown(context.Background())
			So(errors.Is(err, roomcast.ErrTransport), ShouldBeTrue)
			So(tr.Closed(), ShouldBeTrue)
		})

		Convey("Transport errors are reported and the session keeps going", func() {
			tr.Fail(fmt.Errorf("%w: bad datagram", roomcast.ErrMalformedPayload))
			So(p.WaitFor("error", time.Second), ShouldBeTrue)
			tr.Deliver(roomList("1", "Lobby"))
			So(p.WaitFor("room.added", time.Second), ShouldBeTrue)
			So(s.Shutdown(context.Background()), ShouldBeNil)
		})

		Convey("A lost channel is reported once", func() {
			tr.Fail(fmt.Errorf("%w: socket gone", roomcast.ErrChannelLost))
			So(p.WaitFor("channel.lost", time.Second), ShouldBeTrue)
			So(p.Count("channel.lost"), ShouldEqual, 1)
			So(s.Shutdown(context.Background()), ShouldBeNil)
		})

		Reset(func() {
			_ = s.Shutdown(context.Background())
		})
	})
}

func TestSessionMetrics(t *testing.T) {
	Convey("Given a session with metrics", t, func() {
		var reg = prometheus.NewRegistry()
		var m = roomcast.NewMetrics(reg)
		var tr = mock.NewTransport()
		var s = roomcast.NewSession("alice", tr, roomcast.WithMetrics(m))
		So(s.Start(context.Background()), ShouldBeNil)
		Reset(func() {
			_ = s.Shutdown(context.Background())
		})

		Convey("Active rooms and protocol errors are tracked", func() {
			So(s.Dispatch(roomList("1,3", "Lobby,Sports")), ShouldBeNil)
			So(s.Dispatch(roomList("1", "A,B")), ShouldNotBeNil)
			So(gathered(reg, "roomcast_active_rooms"), ShouldEqual, 2)
			So(gathered(reg, "roomcast_protocol_errors_total"), ShouldEqual, 1)
		})
	})

	Convey("A nil Metrics is usable", t, func() {
		var s = roomcast.NewSession("alice", mock.NewTransport(), roomcast.WithMetrics(nil))
		So(s.Start(context.Background()), ShouldBeNil)
		So(s.Dispatch(roomList("1", "Lobby")), ShouldBeNil)
		So(s.Shutdown(context.Background()), ShouldBeNil)
	})
}

func gathered(reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	So(err, ShouldBeNil)
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		var metric = mf.GetMetric()[0]
		if metric.GetGauge() != nil {
			return metric.GetGauge().GetValue()
		}
		return metric.GetCounter().GetValue()
	}
	return -1
}

func TestFanout(t *testing.T) {
	Convey("Given two presenters behind a fanout", t, func() {
		var a, b = mock.NewPresenter(), mock.NewPresenter()
		var plain []roomcast.Event
		var f = roomcast.Fanout(a, b, plainPresenter{events: &plain})

		f.RoomAdded("Lobby", 1)
		f.(roomcast.ChannelLostObserver).ChannelLost(errors.New("gone"))

		Convey("Every presenter sees every call", func() {
			So(a.HasEvent(&roomcast.RoomAddedEvent{Room: roomcast.Room{ID: 1, Header: "Lobby"}}), ShouldBeTrue)
			So(b.HasEvent(&roomcast.RoomAddedEvent{Room: roomcast.Room{ID: 1, Header: "Lobby"}}), ShouldBeTrue)
			So(plain, ShouldHaveLength, 1)
		})

		Convey("Observers only reach presenters that implement them", func() {
			So(a.Count("channel.lost"), ShouldEqual, 1)
			So(b.Count("channel.lost"), ShouldEqual, 1)
		})
	})
}

type plainPresenter struct {
	events *[]roomcast.Event
}

func (p plainPresenter) ChatLine(text string, roomID int) {
	*p.events = append(*p.events, &roomcast.ChatLineEvent{Room: roomID, Text: text})
}

func (p plainPresenter) RoomAdded(header string, roomID int) {
	*p.events = append(*p.events, &roomcast.RoomAddedEvent{Room: roomcast.Room{ID: roomID, Header: header}})
}

func (p plainPresenter) RoomRemoved(header string, roomID int) {
	*p.events = append(*p.events, &roomcast.RoomRemovedEvent{Room: roomcast.Room{ID: roomID, Header: header}})
}

func (p plainPresenter) RoomsSynced(available []roomcast.Room) {
	*p.events = append(*p.events, &roomcast.RoomsSyncedEvent{Rooms: available})
}
