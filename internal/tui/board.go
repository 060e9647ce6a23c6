package tui

import (
	"sync"

	"github.com/exelr/roomcast"
	"golang.org/x/exp/slices"
)

// DefaultHistory is how many lines a room keeps on screen.
const DefaultHistory = 500

// Board is the screen state: one tab per active room with its history, the
// server catalog and the selected tab. It is safe for concurrent use.
type Board struct {
	mx        sync.RWMutex
	tabs      []roomcast.Room
	history   map[int][]string
	available []roomcast.Room
	current   int
	status    string
	limit     int
}

func NewBoard(limit int) *Board {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Board{
		history: make(map[int][]string),
		current: -1,
		limit:   limit,
	}
}

func (b *Board) AddLine(roomID int, text string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	var lines = append(b.history[roomID], text)
	if len(lines) > b.limit {
		lines = slices.Delete(lines, 0, len(lines)-b.limit)
	}
	b.history[roomID] = lines
}

// AddTab opens a tab for room. The first tab becomes current.
func (b *Board) AddTab(room roomcast.Room) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if slices.IndexFunc(b.tabs, func(r roomcast.Room) bool { return r.ID == room.ID }) >= 0 {
		return
	}
	b.tabs = append(b.tabs, room)
	if b.current < 0 {
		b.current = 0
	}
}

// RemoveTab closes the tab of roomID and drops its history.
func (b *Board) RemoveTab(roomID int) {
	b.mx.Lock()
	defer b.mx.Unlock()
	var i = slices.IndexFunc(b.tabs, func(r roomcast.Room) bool { return r.ID == roomID })
	if i < 0 {
		return
	}
	b.tabs = slices.Delete(b.tabs, i, i+1)
	delete(b.history, roomID)
	switch {
	case len(b.tabs) == 0:
		b.current = -1
	case b.current >= len(b.tabs):
		b.current = len(b.tabs) - 1
	case i < b.current:
		b.current--
	}
}

func (b *Board) SetAvailable(rooms []roomcast.Room) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.available = slices.Clone(rooms)
}

// Next moves to the following tab, wrapping around.
func (b *Board) Next() (roomcast.Room, bool) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.tabs) == 0 {
		return roomcast.Room{}, false
	}
	b.current = (b.current + 1) % len(b.tabs)
	return b.tabs[b.current], true
}

// Focus makes the tab of roomID current.
func (b *Board) Focus(roomID int) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	var i = slices.IndexFunc(b.tabs, func(r roomcast.Room) bool { return r.ID == roomID })
	if i < 0 {
		return false
	}
	b.current = i
	return true
}

func (b *Board) Current() (roomcast.Room, bool) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	if b.current < 0 {
		return roomcast.Room{}, false
	}
	return b.tabs[b.current], true
}

func (b *Board) Tabs() []roomcast.Room {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return slices.Clone(b.tabs)
}

func (b *Board) Available() []roomcast.Room {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return slices.Clone(b.available)
}

func (b *Board) Lines(roomID int) []string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return slices.Clone(b.history[roomID])
}

func (b *Board) SetStatus(s string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.status = s
}

func (b *Board) Status() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.status
}
