package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxlane/parley/pkg/errorsx"
	"github.com/voxlane/parley/pkg/events"
	"github.com/voxlane/parley/pkg/logging"
)

type Config struct {
	Listen         string   `mapstructure:"listen"`
	Path           string   `mapstructure:"path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Path == "" {
		c.Path = "/events"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Inbound pairs a decoded event with the conversation it belongs to.
type Inbound struct {
	SessionID string
	Event     events.Event
}

// Transport is the JSON-over-websocket ingress/egress boundary. Each
// connection is one conversation; the session identifier comes from the
// `session` query parameter or is generated on connect.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan Inbound
	log      *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn

	draining atomic.Bool
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh: make(chan Inbound, 512),
		conns:  make(map[string]*conn),
		log:    logging.NewComponentLogger(slog.Default(), "ws_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

// Recv is the stream of decoded inbound events across all connections.
func (t *Transport) Recv() <-chan Inbound { return t.recvCh }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, t.handleUpgrade)
	t.server = &http.Server{
		Addr:              t.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("ws_listen_error", "error", err)
		}
	}()
	t.log.Info("ws_listening", "addr", t.cfg.Listen, "path", t.cfg.Path)
	return nil
}

func (t *Transport) Stop() error {
	t.SetDraining(true)
	t.mu.Lock()
	for id, c := range t.conns {
		_ = c.ws.Close()
		delete(t.conns, id)
	}
	t.mu.Unlock()
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// Send delivers one outbound chunk to the connection owning the session.
func (t *Transport) Send(sessionID string, chunk events.SpeakableText) error {
	t.mu.Lock()
	c := t.conns[sessionID]
	t.mu.Unlock()
	if c == nil {
		return errorsx.Wrap(errors.New("no connection for session"), errorsx.ReasonTransportSend)
	}
	if err := c.writeJSON(events.Encode(chunk)); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (t *Transport) SetDraining(v bool) {
	t.draining.Store(v)
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	wsConn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("ws_upgrade_failed", "error", err)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c := &conn{ws: wsConn}
	t.mu.Lock()
	if prev := t.conns[sessionID]; prev != nil {
		_ = prev.ws.Close()
	}
	t.conns[sessionID] = c
	t.mu.Unlock()

	t.log.Info("ws_session_connected", "session_id", sessionID)
	go t.readLoop(sessionID, c)
}

func (t *Transport) readLoop(sessionID string, c *conn) {
	defer func() {
		t.mu.Lock()
		if t.conns[sessionID] == c {
			delete(t.conns, sessionID)
		}
		t.mu.Unlock()
		_ = c.ws.Close()
		// A dropped connection ends the conversation.
		t.recvCh <- Inbound{SessionID: sessionID, Event: events.NewPipelineEnd()}
		t.log.Info("ws_session_closed", "session_id", sessionID)
	}()
	for {
		var env events.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Warn("ws_read_error", "session_id", sessionID, "error", err)
			}
			return
		}
		ev, err := env.Event()
		if err != nil {
			t.log.Warn("ws_bad_envelope", "session_id", sessionID, "error", err)
			continue
		}
		t.recvCh <- Inbound{SessionID: sessionID, Event: ev}
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}
