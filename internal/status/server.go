// Package status exposes the live eye state over HTTP and websocket.
package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/monitor"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Snapshot is the JSON view of the latest update.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Frame     int       `json:"frame"`
	FaceFound bool      `json:"face_found"`
	EAR       float64   `json:"ear"`
	Label     string    `json:"label"`
	Color     string    `json:"color"`
	ClosureMS int64     `json:"closure_ms"`
	Blinks    int       `json:"blinks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot converts a monitor update.
func NewSnapshot(sessionID string, u monitor.Update) Snapshot {
	c := u.State.Label.Color()
	return Snapshot{
		SessionID: sessionID,
		Frame:     u.Index,
		FaceFound: u.Face != nil,
		EAR:       u.EAR,
		Label:     u.State.Label.String(),
		Color:     fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B),
		ClosureMS: u.State.ClosureDuration.Milliseconds(),
		Blinks:    u.State.Blinks,
		UpdatedAt: u.Timestamp,
	}
}

// Server serves GET /api/status and /ws/status.
type Server struct {
	app    *fiber.App
	logger *zap.Logger

	mu      sync.RWMutex
	snap    Snapshot
	version uint64

	pushInterval time.Duration
}

// NewServer builds the routes. Call Listen to serve.
func NewServer(sessionID string, logger *zap.Logger) *Server {
	s := &Server{
		logger:       logger,
		snap:         Snapshot{SessionID: sessionID, Label: eyestate.Active.String()},
		pushInterval: 100 * time.Millisecond,
	}

	app := fiber.New(fiber.Config{
		AppName:               "vigil",
		DisableStartupMessage: true,
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// Update replaces the published snapshot.
func (s *Server) Update(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.version++
	s.mu.Unlock()
}

// Snapshot returns the current snapshot.
func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Server) current() (Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.version
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("status server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Snapshot())
}

// handleStatusWS pushes the snapshot whenever it changes.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	defer c.Close()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	var sent uint64
	first := true
	for range ticker.C {
		snap, v := s.current()
		if !first && v == sent {
			continue
		}
		first = false
		b, err := json.Marshal(snap)
		if err != nil {
			s.logger.Error("encode status", zap.Error(err))
			return
		}
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			s.logger.Debug("status client gone", zap.Error(err))
			return
		}
		sent = v
	}
}
