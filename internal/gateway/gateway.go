package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/exelr/roomcast"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Controller is the part of a session the gateway drives on behalf of its
// consumers. *roomcast.Session implements it.
type Controller interface {
	SendChat(text string, roomID int) error
	SendChatMessage(text string) error
	SelectRoom(id int) error
	SelectRoomByHeader(header string) error
	SelectedRoom() (roomcast.Room, bool)
	JoinRoom(id int) error
	LeaveRoom(id int) error
	ActiveRooms() []roomcast.Room
	AvailableRooms() []roomcast.Room
}

var _ Controller = (*roomcast.Session)(nil)

// Intent is a command sent by a websocket consumer.
type Intent struct {
	Type   string `json:"type"`
	Room   int    `json:"room,omitempty"`
	Header string `json:"header,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Snapshot describes the session's rooms at one point in time.
type Snapshot struct {
	Active    []roomcast.Room `json:"active"`
	Available []roomcast.Room `json:"available"`
	Selected  *roomcast.Room  `json:"selected,omitempty"`
}

func ErrUnknownIntent(kind string) error {
	if len(kind) == 0 {
		return errors.New("empty intent type")
	}
	return fmt.Errorf("intent '%s' is not supported", kind)
}

var ErrNotBound = errors.New("gateway is not bound to a session")

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithGatherer exposes the collectors of gatherer at /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) {
		g.gatherer = gatherer
	}
}

// Gateway streams session events to websocket consumers at /ws and accepts
// their intents. It also serves /rooms and, with a gatherer, /metrics.
type Gateway struct {
	app      *fiber.App
	hub      *Hub
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	ctrlMx sync.RWMutex
	ctrl   Controller

	cancel context.CancelFunc
}

func New(opts ...Option) *Gateway {
	var g = &Gateway{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.hub = NewHub(g.logger)

	g.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "roomcast",
	})
	g.app.Use(recover.New())

	g.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	g.app.Get("/ws", websocket.New(g.serveConsumer))
	g.app.Get("/rooms", g.getRooms)
	if g.gatherer != nil {
		g.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})))
	}
	return g
}

// Bind attaches the session the gateway reports on and drives.
func (g *Gateway) Bind(ctrl Controller) {
	g.ctrlMx.Lock()
	defer g.ctrlMx.Unlock()
	g.ctrl = ctrl
}

func (g *Gateway) controller() (Controller, error) {
	g.ctrlMx.RLock()
	defer g.ctrlMx.RUnlock()
	if g.ctrl == nil {
		return nil, ErrNotBound
	}
	return g.ctrl, nil
}

// Presenter returns the session presenter that feeds the gateway's consumers.
func (g *Gateway) Presenter() roomcast.Presenter {
	return roomcast.EventPresenter(g.publish)
}

func (g *Gateway) publish(evt roomcast.Event) {
	g.hub.Publish(&Envelope{Type: evt.GetEventName(), Data: evt})
}

func (g *Gateway) App() *fiber.App {
	return g.app
}

func (g *Gateway) start() {
	var ctx context.Context
	ctx, g.cancel = context.WithCancel(context.Background())
	go g.hub.Run(ctx)
}

// Listen serves on addr until Shutdown.
func (g *Gateway) Listen(addr string) error {
	g.start()
	return g.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	g.start()
	return g.app.Listener(ln)
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	return g.app.ShutdownWithContext(ctx)
}

func (g *Gateway) snapshot() (*Snapshot, error) {
	ctrl, err := g.controller()
	if err != nil {
		return nil, err
	}
	var snap = &Snapshot{
		Active:    ctrl.ActiveRooms(),
		Available: ctrl.AvailableRooms(),
	}
	if room, ok := ctrl.SelectedRoom(); ok {
		snap.Selected = &room
	}
	if snap.Active == nil {
		snap.Active = []roomcast.Room{}
	}
	if snap.Available == nil {
		snap.Available = []roomcast.Room{}
	}
	return snap, nil
}

func (g *Gateway) getRooms(c *fiber.Ctx) error {
	snap, err := g.snapshot()
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(snap)
}

func (g *Gateway) serveConsumer(conn *websocket.Conn) {
	var cl = g.hub.newClient(conn)
	var logger = g.logger.With(zap.Uint64("client", cl.id), zap.String("remote", conn.RemoteAddr().String()))
	defer func() { _ = conn.Close() }()

	snap, err := g.snapshot()
	if err != nil {
		_ = cl.send(&Envelope{Type: "error", Data: err.Error()})
		return
	}
	if err := cl.send(&Envelope{Type: "snapshot", Data: snap}); err != nil {
		logger.Debug("ws snapshot failed", zap.Error(err))
		return
	}

	if !g.hub.join(cl) {
		return
	}
	var written = make(chan struct{})
	go func() {
		defer close(written)
		cl.writeLoop(logger)
	}()
	defer func() {
		g.hub.leave(cl)
		<-written
	}()
	logger.Debug("ws consumer joined")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws read error", zap.Error(err))
			}
			return
		}
		if err := g.handleIntent(raw); err != nil {
			if err := cl.send(&Envelope{Type: "error", Data: err.Error()}); err != nil {
				logger.Debug("unable to write error", zap.Error(err))
			}
		}
	}
}

func (g *Gateway) handleIntent(raw []byte) error {
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}
	ctrl, err := g.controller()
	if err != nil {
		return err
	}
	switch in.Type {
	case "chat":
		if in.Room != 0 {
			return ctrl.SendChat(in.Text, in.Room)
		}
		return ctrl.SendChatMessage(in.Text)
	case "select":
		if in.Header != "" {
			return ctrl.SelectRoomByHeader(in.Header)
		}
		return ctrl.SelectRoom(in.Room)
	case "join":
		return ctrl.JoinRoom(in.Room)
	case "leave":
		return ctrl.LeaveRoom(in.Room)
	default:
		return ErrUnknownIntent(in.Type)
	}
}
