package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/shared/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Frame is one message on the event stream.
type Frame struct {
	Type      string      `json:"type"`
	ClientID  string      `json:"client_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type inbound struct {
	Type string `json:"type"`
}

type client struct {
	id   id.ClientID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans controller events out to websocket subscribers. Broadcast never
// blocks: a client whose buffer is full is disconnected.
type Hub struct {
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[id.ClientID]*client
	closed  bool
}

// NewHub creates an event hub. metrics may be nil.
func NewHub(logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		logger:  logger.Named("events"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origin policy is enforced by the CORS middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[id.ClientID]*client),
	}
}

// Attach forwards ctrl's progress and failure events to every client.
func (h *Hub) Attach(ctrl *navigation.Controller) (detach func()) {
	removeProgress := ctrl.OnProgress(func(ev navigation.ProgressEvent) {
		h.Broadcast(Frame{Type: "progress", Data: ev})
	})
	removeFailure := ctrl.OnFailure(func(ev navigation.FailureEvent) {
		h.Broadcast(Frame{Type: "failure", Data: ev})
	})
	return func() {
		removeProgress()
		removeFailure()
	}
}

// Broadcast sends frame to every connected client.
func (h *Hub) Broadcast(frame Frame) {
	if frame.Timestamp == 0 {
		frame.Timestamp = time.Now().UnixMilli()
	}
	payload, err := sonic.Marshal(frame)
	if err != nil {
		h.logger.Error("encode frame", zap.String("type", frame.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		select {
		case c.send <- payload:
			h.recordMessage("out", frame.Type)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow event client", zap.String("client_id", c.id.String()))
		h.unregister(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// HandleConnection upgrades the request and streams events until the peer leaves.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{id: id.NewClientID(), conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(cl) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go h.writePump(cl)
	h.direct(cl, Frame{Type: "hello", ClientID: cl.id.String()})
	h.readPump(cl)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	h.logger.Debug("event client connected", zap.String("client_id", c.id.String()))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if ok {
		c.close()
		if h.metrics != nil {
			h.metrics.DecWSConnections()
		}
		h.logger.Debug("event client disconnected", zap.String("client_id", c.id.String()))
	}
}

// direct queues a frame for one client.
func (h *Hub) direct(c *client, frame Frame) {
	frame.Timestamp = time.Now().UnixMilli()
	payload, err := sonic.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
		h.recordMessage("out", frame.Type)
	default:
	}
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.direct(c, Frame{Type: "error", Message: "malformed message"})
			continue
		}
		h.recordMessage("in", msg.Type)

		switch msg.Type {
		case "ping":
			h.direct(c, Frame{Type: "pong"})
		default:
			h.direct(c, Frame{Type: "error", Message: "unknown message type"})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) recordMessage(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}
