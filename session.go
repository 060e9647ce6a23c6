package roomcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func WithPresenter(p Presenter) Option {
	return func(s *Session) {
		s.presenter = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithAutoJoin controls whether every room in a SEND_PUBLIC_ROOMS push also
// becomes active. It is on by default; when off, rooms are joined with
// JoinRoom.
func WithAutoJoin(b bool) Option {
	return func(s *Session) {
		s.autoJoin = b
	}
}

// WithOptimisticJoin controls whether the session counts as joined right after
// LOGIN is sent (default) or only once the server has sent something.
func WithOptimisticJoin(b bool) Option {
	return func(s *Session) {
		s.optimisticJoin = b
	}
}

func WithInboxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}

// Session is the client's protocol state machine. It owns the transport for
// its lifetime: Start sends LOGIN and begins receiving, Shutdown sends
// USEREXIT and releases the transport.
type Session struct {
	id        string
	username  string
	transport Transport
	rooms     *RoomRegistry
	presenter Presenter
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time

	autoJoin       bool
	optimisticJoin bool
	inboxSize      int

	state       atomic.Int32
	lifecycleMx sync.Mutex
	dispatchMx  sync.Mutex
	notifyMx    sync.Mutex

	selectedMx  sync.RWMutex
	selected    int
	hasSelected bool

	inbox  chan *Message
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(username string, transport Transport, opts ...Option) *Session {
	var s = &Session{
		id:             uuid.NewString(),
		username:       username,
		transport:      transport,
		rooms:          NewRoomRegistry(),
		presenter:      EventPresenter(func(Event) {}),
		logger:         zap.NewNop(),
		now:            time.Now,
		autoJoin:       true,
		optimisticJoin: true,
		inboxSize:      256,
		errs:           make(chan error, 32),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id), zap.String("user", username))
	return s
}

// Connect opens a UDP channel to address and starts a session for username on
// it. The session owns the channel.
func Connect(ctx context.Context, username, address string, channelOpts []ChannelOption, opts ...Option) (*Session, error) {
	ch, err := DialUDP(address, channelOpts...)
	if err != nil {
		return nil, err
	}
	var s = NewSession(username, ch, opts...)
	if err := s.Start(ctx); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Username() string {
	return s.username
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) ActiveRooms() []Room {
	return s.rooms.Active()
}

func (s *Session) AvailableRooms() []Room {
	return s.rooms.Available()
}

// Start announces the user with LOGIN and starts the receive and dispatch
// loops. It does not wait for the server.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMx.Lock()
	defer s.lifecycleMx.Unlock()
	switch s.State() {
	case StateDisconnected:
	case StateClosed:
		return ErrSessionClosed
	default:
		return errors.New("session already started")
	}

	s.transport.SetErrorHandler(s.reportError)
	s.state.Store(int32(StateConnecting))
	s.transport.Send(NewLogin(s.username))
	s.logger.Info("login sent")

	ctx, s.cancel = context.WithCancel(ctx)
	s.inbox = make(chan *Message, s.inboxSize)
	var received = make(chan struct{})
	go s.receiveLoop(ctx, received)
	go s.dispatchLoop(received)

	if s.optimisticJoin {
		s.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined))
	}
	return nil
}

func (s *Session) receiveLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer close(s.inbox)
	var err = s.transport.Listen(ctx, func(msg *Message) {
		select {
		case s.inbox <- msg:
		default:
			s.metrics.inboxDropped()
			s.logger.Warn("dispatch behind, dropping message", zap.Stringer("kind", msg.Why))
		}
	}, s.reportError)
	if err != nil {
		s.logger.Error("receive loop terminated", zap.Error(err))
		s.emit(func(p Presenter) {
			if o, ok := p.(ChannelLostObserver); ok {
				o.ChannelLost(err)
			}
		})
	}
}

// dispatchLoop applies inbound messages and hands queued errors to the
// presenter until the receive loop stops.
func (s *Session) dispatchLoop(received <-chan struct{}) {
	defer close(s.done)
	for {
		select {
		case msg, ok := <-s.inbox:
			if !ok {
				s.flushErrors()
				<-received
				return
			}
			if err := s.Dispatch(msg); err != nil && !errors.Is(err, ErrSessionClosed) {
				s.reportError(err)
			}
		case err := <-s.errs:
			s.notifyError(err)
		}
	}
}

func (s *Session) flushErrors() {
	for {
		select {
		case err := <-s.errs:
			s.notifyError(err)
		default:
			return
		}
	}
}

func (s *Session) emit(f func(Presenter)) {
	s.notifyMx.Lock()
	defer s.notifyMx.Unlock()
	f(s.presenter)
}

// reportError may run on any goroutine, including inside a presenter call, so
// it only queues err for the dispatch loop.
func (s *Session) reportError(err error) {
	s.logger.Warn("session error", zap.Error(err))
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("error queue full, not reported", zap.Error(err))
	}
}

func (s *Session) notifyError(err error) {
	s.emit(func(p Presenter) {
		if o, ok := p.(ErrorObserver); ok {
			o.ErrorReported(err)
		}
	})
}

// Dispatch applies one inbound message to the session. Calls are serialised:
// a message is fully applied, events included, before the next one starts.
// Only protocol errors are returned; registry conflicts are logged since the
// server's view wins.
func (s *Session) Dispatch(msg *Message) error {
	s.dispatchMx.Lock()
	defer s.dispatchMx.Unlock()

	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if s.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined)) {
		s.logger.Info("joined", zap.Stringer("first", msg.Why))
	}

	switch msg.Why {
	case KindPublicMessage:
		s.onPublicMessage(msg)
	case KindSendPublicRooms:
		return s.onSendPublicRooms(msg)
	case KindCreatePublicRoom:
		s.addRoom(msg.Where, msg.What)
	case KindCloseRoom:
		s.removeRoom(msg.Where, msg.What)
	default:
		s.logger.Debug("ignoring message", zap.Stringer("kind", msg.Why))
	}
	return nil
}

func (s *Session) onPublicMessage(msg *Message) {
	if msg.What == "" {
		return
	}
	var line = msg.Line()
	if msg.Where == BroadcastRoom {
		var rooms = s.rooms.Active()
		s.emit(func(p Presenter) {
			for _, r := range rooms {
				p.ChatLine(line, r.ID)
			}
		})
		return
	}
	if _, ok := s.rooms.FindActive(msg.Where); !ok {
		s.logger.Debug("message for inactive room", zap.Int("room", msg.Where))
		return
	}
	s.emit(func(p Presenter) {
		p.ChatLine(line, msg.Where)
	})
}

// ParseRoomList splits the parallel comma-joined id and header lists of a
// SEND_PUBLIC_ROOMS message.
func ParseRoomList(ids, headers string) ([]Room, error) {
	if ids == "" && headers == "" {
		return nil, nil
	}
	var idTokens = strings.Split(ids, ",")
	var headerTokens = strings.Split(headers, ",")
	if len(idTokens) != len(headerTokens) {
		return nil, ErrRoomListMismatch(len(idTokens), len(headerTokens))
	}
	var rooms = make([]Room, 0, len(idTokens))
	for i, tok := range idTokens {
		id, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return nil, ErrInvalidRoomID(tok)
		}
		rooms = append(rooms, Room{ID: id, Header: headerTokens[i]})
	}
	return rooms, nil
}

func (s *Session) onSendPublicRooms(msg *Message) error {
	rooms, err := ParseRoomList(msg.Who, msg.What)
	if err != nil {
		s.metrics.protocolError()
		return err
	}
	s.rooms.ReplaceAvailable(rooms)
	s.logger.Info("rooms synced", zap.Int("count", len(rooms)))
	var synced = s.rooms.Available()
	s.emit(func(p Presenter) {
		p.RoomsSynced(synced)
	})
	if !s.autoJoin {
		return nil
	}
	for _, r := range rooms {
		if _, ok := s.rooms.FindActive(r.ID); !ok {
			s.addRoom(r.ID, r.Header)
		}
	}
	return nil
}

func (s *Session) addRoom(id int, header string) (Room, error) {
	room, err := s.rooms.AddActive(id, header)
	if err != nil {
		s.logger.Warn("room not added", zap.Error(err))
		return room, err
	}
	s.metrics.setActiveRooms(len(s.rooms.Active()))
	s.emit(func(p Presenter) {
		p.RoomAdded(room.Header, room.ID)
	})
	return room, nil
}

func (s *Session) removeRoom(id int, header string) (Room, error) {
	room, err := s.rooms.RemoveActive(id, header)
	if err != nil {
		s.logger.Warn("room not removed", zap.Error(err))
		return room, err
	}
	s.selectedMx.Lock()
	if s.hasSelected && s.selected == room.ID {
		s.hasSelected = false
	}
	s.selectedMx.Unlock()
	s.metrics.setActiveRooms(len(s.rooms.Active()))
	s.emit(func(p Presenter) {
		p.RoomRemoved(room.Header, room.ID)
	})
	return room, nil
}

func (s *Session) checkRunning() error {
	switch s.State() {
	case StateDisconnected:
		return ErrSessionNotStarted
	case StateClosed:
		return ErrSessionClosed
	}
	return nil
}

// SendChat sends text to an active room. Nothing is sent for empty text or a
// room the client is not in. The line is not displayed locally; it shows up
// when the server broadcasts it back.
func (s *Session) SendChat(text string, roomID int) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	if text == "" {
		return ErrEmptyMessage
	}
	if _, ok := s.rooms.FindActive(roomID); !ok {
		return fmt.Errorf("%w: room %d is not active", ErrNoRoomSelected, roomID)
	}
	s.transport.Send(NewPublicMessage(s.username, text, roomID, s.now()))
	return nil
}

// SendChatMessage sends text to the selected room.
func (s *Session) SendChatMessage(text string) error {
	room, ok := s.SelectedRoom()
	if !ok {
		if err := s.checkRunning(); err != nil {
			return err
		}
		return ErrNoRoomSelected
	}
	return s.SendChat(text, room.ID)
}

func (s *Session) SelectRoom(id int) error {
	if _, ok := s.rooms.FindActive(id); !ok {
		return fmt.Errorf("%w: %d", ErrRoomNotFound, id)
	}
	s.selectedMx.Lock()
	defer s.selectedMx.Unlock()
	s.selected = id
	s.hasSelected = true
	return nil
}

// SelectRoomByHeader selects the first active room displayed as header.
func (s *Session) SelectRoomByHeader(header string) error {
	room, ok := s.rooms.FindActiveByHeader(header)
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, header)
	}
	return s.SelectRoom(room.ID)
}

func (s *Session) SelectedRoom() (Room, bool) {
	s.selectedMx.RLock()
	var id, ok = s.selected, s.hasSelected
	s.selectedMx.RUnlock()
	if !ok {
		return Room{}, false
	}
	return s.rooms.FindActive(id)
}

// JoinRoom makes an advertised room active and tells the server.
func (s *Session) JoinRoom(id int) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.dispatchMx.Lock()
	defer s.dispatchMx.Unlock()
	avail, ok := s.rooms.FindAvailable(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrRoomNotAdvertised, id)
	}
	if _, err := s.addRoom(avail.ID, avail.Header); err != nil {
		return err
	}
	s.transport.Send(NewJoinRoom(s.username, id, s.now()))
	return nil
}

// LeaveRoom drops an active room and tells the server.
func (s *Session) LeaveRoom(id int) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.dispatchMx.Lock()
	defer s.dispatchMx.Unlock()
	if _, err := s.removeRoom(id, ""); err != nil {
		return err
	}
	s.transport.Send(NewLeaveRoom(s.username, id, s.now()))
	return nil
}

// Shutdown sends USEREXIT synchronously, closes the transport and waits for
// the loops to stop or ctx to end. The session cannot be restarted.
func (s *Session) Shutdown(ctx context.Context) error {
	s.lifecycleMx.Lock()
	defer s.lifecycleMx.Unlock()

	s.dispatchMx.Lock()
	var prev = State(s.state.Swap(int32(StateClosed)))
	s.dispatchMx.Unlock()
	if prev == StateClosed {
		return nil
	}

	var exitErr error
	if prev != StateDisconnected {
		if exitErr = s.transport.SendSync(NewUserExit(s.username, s.now())); exitErr != nil {
			s.logger.Warn("logoff not sent", zap.Error(exitErr))
		}
		s.cancel()
	}
	var closeErr = s.transport.Close()
	s.logger.Info("session closed", zap.Stringer("from", prev))

	if prev != StateDisconnected {
		select {
		case <-s.done:
		case <-ctx.Done():
			return errors.Join(exitErr, closeErr, ctx.Err())
		}
	}
	return errors.Join(exitErr, closeErr)
}
