package roomcast

import (
	"fmt"
	"time"
)

// Kind is the protocol enumeration carried in the Why field of every Message.
type Kind int

const (
	KindLogin            Kind = 200
	KindPublicMessage    Kind = 201
	KindSendPublicRooms  Kind = 202
	KindCreatePublicRoom Kind = 203
	KindCloseRoom        Kind = 204
	KindUserExit         Kind = 205
	KindJoinRoom         Kind = 206
	KindLeaveRoom        Kind = 207
)

const (
	// BroadcastRoom addresses every active room.
	BroadcastRoom = -1
	// NoRoom is the Where value of messages not bound to a room.
	NoRoom = 0
)

var kindNames = map[Kind]string{
	KindLogin:            "LOGIN",
	KindPublicMessage:    "PUBLIC_MESSAGE",
	KindSendPublicRooms:  "SEND_PUBLIC_ROOMS",
	KindCreatePublicRoom: "CREATE_PUBLIC_ROOM",
	KindCloseRoom:        "CLOSE_ROOM",
	KindUserExit:         "USEREXIT",
	KindJoinRoom:         "JOIN_ROOM",
	KindLeaveRoom:        "LEAVE_ROOM",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// Known reports whether k is part of the protocol enumeration.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Message is the single record exchanged with the server. Why decides which of
// the other fields carry meaning; the rest are ignored by the receiver.
type Message struct {
	Who   string `codec:"Who" json:"Who"`
	What  string `codec:"What" json:"What"`
	When  string `codec:"When" json:"When"`
	Where int    `codec:"Where" json:"Where"`
	Why   Kind   `codec:"Why" json:"Why"`
}

func (m *Message) String() string {
	return fmt.Sprintf("%s{who=%q what=%q when=%q where=%d}", m.Why, m.Who, m.What, m.When, m.Where)
}

// Line renders a public message the way it is displayed in a room.
func (m *Message) Line() string {
	return "[" + m.When + "] " + m.Who + " : " + m.What
}

// DisplayTime formats t as the advisory When value.
func DisplayTime(t time.Time) string {
	return t.Format("15:04")
}

func NewLogin(who string) *Message {
	return &Message{
		Who: who,
		Why: KindLogin,
	}
}

func NewPublicMessage(who, what string, where int, at time.Time) *Message {
	return &Message{
		Who:   who,
		What:  what,
		When:  DisplayTime(at),
		Where: where,
		Why:   KindPublicMessage,
	}
}

func NewUserExit(who string, at time.Time) *Message {
	return &Message{
		Who:   who,
		When:  DisplayTime(at),
		Where: NoRoom,
		Why:   KindUserExit,
	}
}

func NewJoinRoom(who string, room int, at time.Time) *Message {
	return &Message{
		Who:   who,
		When:  DisplayTime(at),
		Where: room,
		Why:   KindJoinRoom,
	}
}

func NewLeaveRoom(who string, room int, at time.Time) *Message {
	return &Message{
		Who:   who,
		When:  DisplayTime(at),
		Where: room,
		Why:   KindLeaveRoom,
	}
}
