package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// wsConn adapts a websocket connection to the Subscriber interface. The
// write mutex serializes publishes racing on the same connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is the relay's HTTP surface: the subscription endpoint and the
// internal push endpoint the dispatcher posts into.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer creates the relay server around a hub.
func NewServer(hub *Hub, logger zerolog.Logger) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers connect from arbitrary origins; there is no auth
			// surface in this service.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.With().Str("component", "relay").Logger(),
	}
}

// Router builds the relay's chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ws", s.handleSubscribe)
	r.Post("/send", s.handleSend)

	return r
}

// handleSubscribe upgrades the connection and registers it under the
// externalId query parameter. The connection stays registered until its
// transport closes from either side.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	externalID := r.URL.Query().Get("externalId")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := &wsConn{conn: conn}
	s.hub.Subscribe(sub, externalID)
	s.log.Info().Str("externalId", externalID).Msg("WebSocket connected")

	// Read pump: subscribers send nothing meaningful, but reading is what
	// detects the close from the remote side.
	go func() {
		defer func() {
			s.hub.Unsubscribe(sub)
			_ = conn.Close()
			s.log.Info().Str("externalId", externalID).Msg("WebSocket disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type sendRequest struct {
	ExternalID string          `json:"externalId"`
	Message    json.RawMessage `json:"message"`
}

// handleSend accepts a push from the dispatcher and fans it out. The
// response is 200 regardless of whether any subscriber was listening.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == "" || len(req.Message) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Missing externalId or message"}`))
		return
	}

	delivered := s.hub.Publish(req.ExternalID, req.Message)
	s.log.Debug().Str("externalId", req.ExternalID).Int("delivered", delivered).Msg("Relay publish")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"success":true}`))
}
