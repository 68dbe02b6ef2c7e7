// Package server assembles the relay hub's HTTP handler: the WebSocket
// upgrade endpoint, the health probes, and the handful of JSON endpoints
// described by the hub's external interface (all read-only except the
// feedback POST).
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rjsadow/relayhub/internal/db"
	"github.com/rjsadow/relayhub/internal/hub"
	"github.com/rjsadow/relayhub/internal/janitor"
	"github.com/rjsadow/relayhub/internal/middleware"
	"github.com/rjsadow/relayhub/internal/netutil"
	"github.com/rjsadow/relayhub/internal/qrcode"
	"github.com/rjsadow/relayhub/internal/ratelimit"
	"github.com/rjsadow/relayhub/internal/registry"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	Registry        *registry.Registry
	Janitor         *janitor.Janitor
	Stats           *db.DB // nil disables /api/stats and /api/feedback
	Port            int
	MaxSessionBytes int64
	RateLimiter     *ratelimit.RateLimiter
	Log             *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	h := &handlers{app: a}

	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	mux.HandleFunc("/ws", h.handleWebSocket)

	mux.HandleFunc("/api/qrcode", h.handleQRCode)
	mux.HandleFunc("/api/info", h.handleInfo)
	mux.HandleFunc("/api/files", h.handleFiles)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/feedback", h.handleFeedback)

	return middleware.SecurityHeaders(middleware.RequestID(mux))
}

type handlers struct {
	app *App
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.app.Stats != nil {
		if err := h.app.Stats.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("stats database unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.app.RateLimiter != nil && !h.app.RateLimiter.Allow(ratelimit.ClientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.app.Log.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := hub.New(ws, h.app.Registry, h.app.Janitor, h.app.MaxSessionBytes, h.app.Log)
	conn.Serve()
}

func (h *handlers) handleQRCode(w http.ResponseWriter, r *http.Request) {
	url := h.joinURL(r.URL.Query().Get("session"))
	dataURI, err := qrcode.DataURI(url)
	if err != nil {
		http.Error(w, "failed to render qr code", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"qrCode": dataURI,
		"url":    url,
		"ip":     netutil.LocalIPv4(),
	})
}

func (h *handlers) handleInfo(w http.ResponseWriter, r *http.Request) {
	connected := 0
	for _, s := range h.app.Registry.Sessions() {
		connected += s.DeviceCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ip":               netutil.LocalIPv4(),
		"port":             h.app.Port,
		"url":              h.joinURL(""),
		"connectedDevices": connected,
	})
}

func (h *handlers) handleFiles(w http.ResponseWriter, r *http.Request) {
	type fileEntry struct {
		ID           string `json:"id"`
		OriginalName string `json:"originalName"`
		Size         int64  `json:"size"`
		Mimetype     string `json:"mimetype"`
	}
	var out []fileEntry
	for _, s := range h.app.Registry.Sessions() {
		for _, f := range s.Files() {
			if f.Open() {
				continue
			}
			out = append(out, fileEntry{ID: f.ID, OriginalName: f.OriginalName, Size: f.Size, Mimetype: f.Mimetype})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

func (h *handlers) handleDevices(w http.ResponseWriter, r *http.Request) {
	type deviceEntry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	var out []deviceEntry
	for _, s := range h.app.Registry.Sessions() {
		for _, d := range s.Members() {
			out = append(out, deviceEntry{ID: d.ID, Name: d.Name, Type: d.Type})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.app.Stats == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	stats, err := h.app.Stats.GetStats()
	if err != nil {
		http.Error(w, "failed to read stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"totalUsers":    stats.TotalUsers,
		"totalSessions": stats.TotalSessions,
	})
}

func (h *handlers) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.app.Stats == nil {
		http.Error(w, "feedback unavailable", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		http.Error(w, "rating must be between 1 and 5", http.StatusBadRequest)
		return
	}

	if err := h.app.Stats.AddFeedback(body.Rating, body.Feedback); err != nil {
		http.Error(w, "failed to record feedback", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) joinURL(sessionCode string) string {
	base := fmt.Sprintf("http://%s:%d", netutil.LocalIPv4(), h.app.Port)
	if sessionCode == "" {
		return base
	}
	return base + "?session=" + sessionCode
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
