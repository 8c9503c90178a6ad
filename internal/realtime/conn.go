package realtime

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hashbid/backend/internal/middleware"
	"github.com/hashbid/backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn is one websocket connection. bidderID is empty until the socket
// authenticates; unauthenticated sockets only receive public broadcasts.
type Conn struct {
	ws       *websocket.Conn
	send     chan []byte
	remoteIP string

	mu       sync.Mutex
	closed   bool
	bidderID string
}

// BidderID returns the bound identity, or "" for spectators.
func (c *Conn) BidderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bidderID
}

// setBidderID takes c.mu so Bind and BidderID are ordered even when
// called from different goroutines.
func (c *Conn) setBidderID(bidderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bidderID = bidderID
}

// RemoteIP returns the originating address used for per-IP rate limits.
func (c *Conn) RemoteIP() string {
	return c.remoteIP
}

// Send marshals and queues one event frame. Frames to a slow consumer
// are dropped with the connection rather than blocking the hub.
func (c *Conn) Send(event string, payload any) {
	if frame, ok := marshalFrame(event, payload); ok {
		c.enqueue(frame)
	}
}

// SendError reports a failure to this socket only.
func (c *Conn) SendError(code, message string) {
	c.Send(models.EventError, map[string]string{"code": code, "message": message})
}

func (c *Conn) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		// Slow consumer; drop the connection, the client reconnects.
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Gateway upgrades HTTP requests to websocket connections and runs the
// read/write pumps against the hub and router.
type Gateway struct {
	hub         *Hub
	router      *Router
	limiter     RateLimiter
	security    *SecurityLogger
	connsPerMin int
}

func NewGateway(hub *Hub, router *Router, limiter RateLimiter, security *SecurityLogger, connsPerMin int) *Gateway {
	return &Gateway{hub: hub, router: router, limiter: limiter, security: security, connsPerMin: connsPerMin}
}

// ServeWS handles one websocket upgrade. A `token` query parameter
// authenticates the socket up front; otherwise the client can send an
// authenticate frame later. Connection attempts are rate limited per IP
// and, when identified, per bidder.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	allowed, err := g.limiter.Allow(r.Context(), "conn:ip:"+ip, g.connsPerMin)
	if err != nil {
		log.Printf("[REALTIME] rate limiter unavailable: %v", err)
	} else if !allowed {
		g.security.RateLimited("connection", "", ip)
		http.Error(w, "connection rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var bidderID string
	if token := r.URL.Query().Get("token"); token != "" {
		bidderID, err = middleware.ValidateToken(token)
		if err != nil {
			g.security.AuthFailure(ip, err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		allowed, err = g.limiter.Allow(r.Context(), "conn:bidder:"+bidderID, g.connsPerMin)
		if err == nil && !allowed {
			g.security.RateLimited("connection", bidderID, ip)
			http.Error(w, "connection rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[REALTIME] upgrade failed: %v", err)
		return
	}

	c := &Conn{ws: ws, send: make(chan []byte, sendBuffer), remoteIP: ip}
	g.hub.Register(c)
	if bidderID != "" {
		g.hub.Bind(c, bidderID)
	}

	c.Send(models.EventConnectionConfirmed, map[string]any{
		"authenticated": bidderID != "",
		"bidder_id":     bidderID,
	})

	go c.writePump()
	go g.readPump(c)
}

func (g *Gateway) readPump(c *Conn) {
	defer func() {
		g.hub.Deregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[REALTIME] read error: %v", err)
			}
			return
		}
		g.router.Dispatch(context.Background(), c, raw)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from the usual proxy
	// headers before we get here.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
