package arena

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultSendBuffer   = 16
	maxFrameBytes       = 4 << 10
)

// HubConfig holds websocket settings.
type HubConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"`
	WriteWait    time.Duration `yaml:"writeWait"`
	SendBuffer   int           `yaml:"sendBuffer"`
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Hub accepts player websockets and routes their frames to the matchmaker.
type Hub struct {
	matchmaker *Matchmaker
	upgrader   websocket.Upgrader
	conns      *xsync.MapOf[string, *Conn]
	live       *xsync.MapOf[*Conn, struct{}]
	cfg        HubConfig
	wg         sync.WaitGroup
}

func NewHub(matchmaker *Matchmaker, cfg HubConfig) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	h := &Hub{
		matchmaker: matchmaker,
		conns:      xsync.NewMapOf[string, *Conn](),
		live:       xsync.NewMapOf[*Conn, struct{}](),
		cfg:        cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Handle upgrades GET /ws.
func (h *Hub) Handle(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newConn(ws, h.cfg)
	h.live.Store(conn, struct{}{})
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		conn.writeLoop()
	}()
	go func() {
		defer h.wg.Done()
		h.readLoop(context.WithoutCancel(c.Request.Context()), conn)
	}()
}

// Connections returns the number of joined players.
func (h *Hub) Connections() int {
	return h.conns.Size()
}

// Shutdown closes every connection and waits for their loops to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.live.Range(func(c *Conn, _ struct{}) bool {
		c.Close()
		return true
	})
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) readLoop(ctx context.Context, c *Conn) {
	defer h.disconnect(ctx, c)
	c.ws.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "websocket read failed", zap.Error(err))
			}
			return
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.Send(OutboundMessage{Type: TypeError, Message: "invalid JSON frame"})
			continue
		}
		h.dispatch(ctx, c, in)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, in InboundMessage) {
	switch in.Type {
	case TypeJoin:
		h.join(ctx, c, strings.TrimSpace(in.UserID))
	case TypeSubmission:
		if c.UserID() == "" {
			c.Send(OutboundMessage{Type: TypeError, Message: "join before sending submissions"})
			return
		}
		if err := h.matchmaker.Submitted(c, in.RoomID); err != nil {
			c.Send(errorFrame(err))
		}
	default:
		c.Send(OutboundMessage{Type: TypeError, Message: "unknown frame type"})
	}
}

func (h *Hub) join(ctx context.Context, c *Conn, userID string) {
	if userID == "" {
		c.Send(OutboundMessage{Type: TypeError, Message: "Missing field: userId"})
		return
	}
	if !c.bind(userID) {
		c.Send(OutboundMessage{Type: TypeError, Message: "connection already joined"})
		return
	}
	ctx = context.WithValue(ctx, contextkey.UserID, userID)

	if previous, loaded := h.conns.LoadAndStore(userID, c); loaded && previous != c {
		previous.Send(OutboundMessage{Type: TypeError, Message: "duplicate connection, closing the previous one"})
		h.matchmaker.Leave(ctx, previous)
		previous.Close()
		logger.Info(ctx, "replaced duplicate arena connection")
	}

	if err := h.matchmaker.Join(ctx, c); err != nil {
		c.Send(errorFrame(err))
		return
	}
}

func (h *Hub) disconnect(ctx context.Context, c *Conn) {
	c.Close()
	h.live.Delete(c)
	userID := c.UserID()
	if userID == "" {
		return
	}
	h.conns.Compute(userID, func(current *Conn, loaded bool) (*Conn, bool) {
		return current, !loaded || current == c
	})
	h.matchmaker.Leave(context.WithValue(ctx, contextkey.UserID, userID), c)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Conn is one player websocket. Writes go through a buffered channel drained by writeLoop.
type Conn struct {
	ws        *websocket.Conn
	send      chan OutboundMessage
	done      chan struct{}
	closeOnce sync.Once
	cfg       HubConfig

	mu     sync.Mutex
	userID string
}

func newConn(ws *websocket.Conn, cfg HubConfig) *Conn {
	return &Conn{
		ws:   ws,
		send: make(chan OutboundMessage, cfg.SendBuffer),
		done: make(chan struct{}),
		cfg:  cfg,
	}
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) bind(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	return true
}

// Send drops the connection when the player does not keep up.
func (c *Conn) Send(msg OutboundMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		logger.Warn(context.Background(), "arena send buffer full, closing connection", zap.String("user_id", c.UserID()))
		c.Close()
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(OutboundMessage{Type: TypePing}); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			deadline := time.Now().Add(c.cfg.WriteWait)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// flush writes frames queued before Close, such as a winner announcement.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(msg OutboundMessage) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteJSON(msg)
}
