package tui

import (
	"fmt"
	"testing"

	"github.com/exelr/roomcast"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBoard(t *testing.T) {
	var lobby = roomcast.Room{ID: 1, Header: "Lobby"}
	var sports = roomcast.Room{ID: 3, Header: "Sports"}
	var games = roomcast.Room{ID: 7, Header: "Games"}

	Convey("Given an empty board", t, func() {
		var b = NewBoard(3)
		_, ok := b.Current()
		So(ok, ShouldBeFalse)
		_, ok = b.Next()
		So(ok, ShouldBeFalse)

		Convey("The first tab becomes current", func() {
			b.AddTab(lobby)
			b.AddTab(sports)
			b.AddTab(lobby)
			So(b.Tabs(), ShouldResemble, []roomcast.Room{lobby, sports})
			room, ok := b.Current()
			So(ok, ShouldBeTrue)
			So(room, ShouldResemble, lobby)

			Convey("Next wraps around", func() {
				room, _ = b.Next()
				So(room, ShouldResemble, sports)
				room, _ = b.Next()
				So(room, ShouldResemble, lobby)
			})

			Convey("Removing a tab before the current one keeps it current", func() {
				b.AddTab(games)
				So(b.Focus(7), ShouldBeTrue)
				b.RemoveTab(1)
				room, _ := b.Current()
				So(room, ShouldResemble, games)
			})

			Convey("Removing the last tab clears the selection", func() {
				b.RemoveTab(1)
				b.RemoveTab(3)
				_, ok := b.Current()
				So(ok, ShouldBeFalse)
			})

			Convey("Focus ignores unknown rooms", func() {
				So(b.Focus(42), ShouldBeFalse)
				room, _ := b.Current()
				So(room, ShouldResemble, lobby)
			})
		})

		Convey("History is kept per room and bounded", func() {
			b.AddTab(lobby)
			for i := 0; i < 5; i++ {
				b.AddLine(1, fmt.Sprintf("line %d", i))
			}
			b.AddLine(3, "elsewhere")
			So(b.Lines(1), ShouldResemble, []string{"line 2", "line 3", "line 4"})
			So(b.Lines(3), ShouldResemble, []string{"elsewhere"})

			Convey("Closing a tab drops its history", func() {
				b.RemoveTab(1)
				So(b.Lines(1), ShouldBeEmpty)
			})
		})
	})
}
