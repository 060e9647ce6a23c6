package roomcast

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// Room is a value copy of a room known to the client. Header is the display
// name; it is not unique and never changes once the room exists.
type Room struct {
	ID     int    `json:"id" yaml:"id"`
	Header string `json:"header" yaml:"header"`
}

func (r Room) String() string {
	return fmt.Sprintf("%d:%s", r.ID, r.Header)
}

// RoomRegistry tracks the server catalog (available rooms) and the rooms the
// client takes part in (active rooms). Active ids are unique and were all
// advertised by the server at some point.
type RoomRegistry struct {
	sync.RWMutex
	available  []Room
	active     []Room
	advertised map[int]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		advertised: make(map[int]struct{}),
	}
}

// ReplaceAvailable discards the previous catalog and installs rooms.
func (rr *RoomRegistry) ReplaceAvailable(rooms []Room) {
	rr.Lock()
	defer rr.Unlock()
	rr.available = slices.Clone(rooms)
	for _, r := range rooms {
		rr.advertised[r.ID] = struct{}{}
	}
}

func (rr *RoomRegistry) indexActive(id int) int {
	return slices.IndexFunc(rr.active, func(r Room) bool { return r.ID == id })
}

// AddActive records a server-announced room as active. Adding an id that is
// already active changes nothing and returns the existing room with
// ErrDuplicateRoom.
func (rr *RoomRegistry) AddActive(id int, header string) (Room, error) {
	rr.Lock()
	defer rr.Unlock()
	if i := rr.indexActive(id); i >= 0 {
		return rr.active[i], fmt.Errorf("%w: %s", ErrDuplicateRoom, rr.active[i])
	}
	var room = Room{ID: id, Header: header}
	rr.active = append(rr.active, room)
	rr.advertised[id] = struct{}{}
	return room, nil
}

// RemoveActive removes the active room matching both id and header. An empty
// header matches on id alone.
func (rr *RoomRegistry) RemoveActive(id int, header string) (Room, error) {
	rr.Lock()
	defer rr.Unlock()
	var i = slices.IndexFunc(rr.active, func(r Room) bool {
		return r.ID == id && (header == "" || r.Header == header)
	})
	if i < 0 {
		return Room{}, fmt.Errorf("%w: %d:%s", ErrRoomNotFound, id, header)
	}
	var room = rr.active[i]
	rr.active = slices.Delete(rr.active, i, i+1)
	return room, nil
}

func (rr *RoomRegistry) FindActive(id int) (Room, bool) {
	rr.RLock()
	defer rr.RUnlock()
	if i := rr.indexActive(id); i >= 0 {
		return rr.active[i], true
	}
	return Room{}, false
}

// FindActiveByHeader returns the first active room displayed as header.
func (rr *RoomRegistry) FindActiveByHeader(header string) (Room, bool) {
	rr.RLock()
	defer rr.RUnlock()
	if i := slices.IndexFunc(rr.active, func(r Room) bool { return r.Header == header }); i >= 0 {
		return rr.active[i], true
	}
	return Room{}, false
}

func (rr *RoomRegistry) FindAvailable(id int) (Room, bool) {
	rr.RLock()
	defer rr.RUnlock()
	if i := slices.IndexFunc(rr.available, func(r Room) bool { return r.ID == id }); i >= 0 {
		return rr.available[i], true
	}
	return Room{}, false
}

// Advertised reports whether the server ever announced id.
func (rr *RoomRegistry) Advertised(id int) bool {
	rr.RLock()
	defer rr.RUnlock()
	_, ok := rr.advertised[id]
	return ok
}

func (rr *RoomRegistry) Available() []Room {
	rr.RLock()
	defer rr.RUnlock()
	return slices.Clone(rr.available)
}

func (rr *RoomRegistry) Active() []Room {
	rr.RLock()
	defer rr.RUnlock()
	return slices.Clone(rr.active)
}
