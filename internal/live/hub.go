package live

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/auth"
	"gateway-fleet-backend/internal/model"
	"gateway-fleet-backend/internal/telemetry"
)

// Frame is the single wire shape for every duplex-channel message. Type
// discriminates; unused fields stay empty.
type Frame struct {
	Type    string                `json:"type"`
	Token   string                `json:"token,omitempty"`
	Command *CommandFrame         `json:"command,omitempty"`
	Data    []telemetry.BatchItem `json:"data,omitempty"`
	Message string                `json:"message,omitempty"`
	Code    string                `json:"code,omitempty"`
}

// CommandFrame is a command pushed over the channel.
type CommandFrame struct {
	ID         string `json:"id"`
	Type       string `json:"commandType"`
	Parameters string `json:"parameters,omitempty"`
	Priority   int    `json:"priority"`
}

// Frame types.
const (
	FrameAuth   = "auth"
	FrameData   = "data"
	FrameAlert  = "alert"
	FramePing   = "ping"
	FramePong   = "pong"
	FrameCmd    = "command"
	FrameError  = "error"
	FrameAuthOK = "auth_ok"
)

// conn is one registered gateway connection.
type conn struct {
	gatewayID string
	tenantID  int64
	userID    int64
	ws        *websocket.Conn

	mu        sync.Mutex // guards writes and the open/responded flags
	open      bool
	responded bool
}

// writeFrame serializes a frame onto the socket. Open state is checked
// immediately before writing; a write on a dying socket is best-effort and
// may still be lost, which is why pull delivery stays authoritative.
func (c *conn) writeFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return websocket.ErrCloseSent
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(f)
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.open = false
		c.ws.Close()
	}
}

// Hub maintains one duplex connection per authenticated gateway and a
// liveness prober that evicts unresponsive connections.
type Hub struct {
	creds    *auth.Service
	pipeline *telemetry.Pipeline
	auditor  *audit.Recorder
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
}

// NewHub creates the live channel registry.
func NewHub(creds *auth.Service, pipeline *telemetry.Pipeline, auditor *audit.Recorder) *Hub {
	return &Hub{
		creds:    creds,
		pipeline: pipeline,
		auditor:  auditor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

// Connected reports whether a gateway currently holds a live channel.
func (h *Hub) Connected(gatewayID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[gatewayID]
	return ok
}

// Push writes a command to a gateway's live channel if one is open. Returns
// false when no channel exists or the write fails; the caller falls back to
// pull delivery either way.
func (h *Hub) Push(gatewayID string, cmd *model.GatewayCommand) bool {
	h.mu.Lock()
	c, ok := h.conns[gatewayID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	err := c.writeFrame(Frame{Type: FrameCmd, Command: &CommandFrame{
		ID:         cmd.ID,
		Type:       cmd.Type,
		Parameters: cmd.Parameters,
		Priority:   cmd.Priority,
	}})
	if err != nil {
		log.Printf("live: push to gateway %s failed: %v", gatewayID, err)
		return false
	}
	return true
}

// HandleConnection upgrades the request and runs the connection protocol:
// the first message must be an auth frame carrying a valid gateway
// credential; anything else closes the connection.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade failed: %v", err)
		return
	}

	claims, ok := h.authenticate(ws, r.RemoteAddr)
	if !ok {
		ws.Close()
		return
	}

	c := &conn{
		gatewayID: claims.GatewayID,
		tenantID:  claims.TenantID,
		userID:    claims.UserID,
		ws:        ws,
		open:      true,
		responded: true,
	}
	h.register(c)
	defer h.remove(c)

	c.writeFrame(Frame{Type: FrameAuthOK})
	h.readLoop(r.Context(), c)
}

func (h *Hub) authenticate(ws *websocket.Conn, remoteAddr string) (*auth.Claims, bool) {
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var first Frame
	if err := ws.ReadJSON(&first); err != nil {
		return nil, false
	}
	ws.SetReadDeadline(time.Time{})

	if first.Type != FrameAuth {
		ws.WriteJSON(Frame{Type: FrameError, Code: "AUTH_REQUIRED", Message: "first message must be auth"})
		return nil, false
	}
	claims, err := h.creds.Verify(first.Token)
	if err != nil {
		ws.WriteJSON(Frame{Type: FrameError, Code: "TOKEN_INVALID", Message: "credential rejected"})
		h.auditor.Record(context.Background(), audit.Event{
			Action:   audit.ActionLiveAuth,
			Success:  false,
			SourceIP: remoteAddr,
			Metadata: map[string]any{"error": err.Error()},
		})
		return nil, false
	}

	h.auditor.Record(context.Background(), audit.Event{
		Action:    audit.ActionLiveAuth,
		Success:   true,
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		GatewayID: claims.GatewayID,
		SourceIP:  remoteAddr,
	})
	return claims, true
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	old, ok := h.conns[c.gatewayID]
	h.conns[c.gatewayID] = c
	h.mu.Unlock()
	// A gateway reconnecting replaces its previous channel.
	if ok {
		old.close()
	}
}

// remove unregisters exactly the given connection. The identity check
// matters on reconnect: the dying handler's deferred remove must not tear
// down the replacement connection that took its slot.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if h.conns[c.gatewayID] == c {
		delete(h.conns, c.gatewayID)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case FramePong:
			c.mu.Lock()
			c.responded = true
			c.mu.Unlock()

		case FramePing:
			c.writeFrame(Frame{Type: FramePong})

		case FrameData:
			res, err := h.pipeline.Ingest(ctx, c.gatewayID, c.tenantID, f.Data)
			if err != nil {
				c.writeFrame(Frame{Type: FrameError, Code: "RATE_LIMITED", Message: err.Error()})
				continue
			}
			if res.Rejected > 0 {
				log.Printf("live: ingest for gateway %s rejected %d of %d items",
					c.gatewayID, res.Rejected, res.Accepted+res.Rejected)
			}

		case FrameAlert:
			h.auditor.Record(ctx, audit.Event{
				Action:    audit.ActionAlert,
				Success:   true,
				UserID:    c.userID,
				TenantID:  c.tenantID,
				GatewayID: c.gatewayID,
				Metadata:  map[string]any{"message": f.Message},
			})

		default:
			c.writeFrame(Frame{Type: FrameError, Code: "UNKNOWN_TYPE", Message: "unsupported message type"})
		}
	}
}

// RunProber periodically pings every connection. A connection that has not
// answered the previous cycle's ping is forcibly closed and removed.
func (h *Hub) RunProber(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe()
		}
	}
}

func (h *Hub) probe() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		responded := c.responded
		c.responded = false
		c.mu.Unlock()

		if !responded {
			log.Printf("live: gateway %s missed liveness probe, closing", c.gatewayID)
			h.remove(c)
			continue
		}
		if err := c.writeFrame(Frame{Type: FramePing}); err != nil {
			h.remove(c)
		}
	}
}
