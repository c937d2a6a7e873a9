// Package api exposes the capture registry over a small HTTP control
// surface: health, device enumeration, channel status, and signal-threshold
// tuning. Frames themselves are never served.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/video-system/go-decklink-capture/pkg/capture"
	"github.com/video-system/go-decklink-capture/pkg/decklink"
)

// ChannelManager is what the server needs from the capture registry
type ChannelManager interface {
	ListChannels() []string
	AllStatuses() map[string]capture.ChannelStatus
	Channel(id string) (*capture.Pipeline, bool)
	Devices() ([]decklink.DeviceInfo, error)
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host    string
	Port    int
	Manager ChannelManager
	Logger  *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	cfg    ServerConfig
	log    *slog.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, log: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	mux.HandleFunc("/api/v1/channels", s.handleChannels)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/channel/status", s.handleChannelStatus)
	mux.HandleFunc("/api/v1/channel/signal", s.handleChannelSignal)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}

	return s
}

// Start starts the API server
func (s *Server) Start() error {
	s.log.Info("api server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the API server
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn("api server shutdown failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "go-decklink-capture",
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	devices, err := s.cfg.Manager.Devices()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	json.NewEncoder(w).Encode(devices)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	json.NewEncoder(w).Encode(map[string][]string{
		"channels": s.cfg.Manager.ListChannels(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	json.NewEncoder(w).Encode(s.cfg.Manager.AllStatuses())
}

func (s *Server) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ch, ok := s.cfg.Manager.Channel(r.URL.Query().Get("id"))
	if !ok {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(ch.Status())
}

func (s *Server) handleChannelSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID           string `json:"id"`
		MinFrames    int    `json:"min_frames"`
		MaxBadFrames int    `json:"max_bad_frames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, ok := s.cfg.Manager.Channel(req.ID)
	if !ok {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}
	if !ch.SetSignalParameters(req.MinFrames, req.MaxBadFrames) {
		http.Error(w, "thresholds must be >= 1", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
