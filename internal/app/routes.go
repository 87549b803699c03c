package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"geochat/go-geochat-server/internal/model"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/participants", a.handleParticipants)
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/api/messages", a.handleRecentMessages)
	mux.HandleFunc("/api/deadletters", a.handleRecentDeadLetters)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.socket == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := struct {
		Participants []model.Participant `json:"participants"`
	}{Participants: a.dir.Snapshot()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode participants response", "error", err)
	}
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := struct {
		Connected     int     `json:"connected"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		AsyncEnabled  bool    `json:"async_enabled"`
		EventsDropped uint64  `json:"events_dropped"`
		SocketAddress string  `json:"socket_address"`
	}{
		Connected:     a.dir.Len(),
		UptimeSeconds: time.Since(a.startedAt).Seconds(),
		AsyncEnabled:  a.broker != nil,
		EventsDropped: a.notifier.Dropped(),
		SocketAddress: a.socket.Addr(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode stats response", "error", err)
	}
}

func (a *App) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	messages, err := a.store.RecentMessages(ctx, queryLimit(r, 50, 500))
	if err != nil {
		a.logger.Error("failed to load recent messages", "error", err)
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}

	response := struct {
		Messages []model.RoutedMessage `json:"messages"`
	}{Messages: messages}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode messages response", "error", err)
	}
}

func (a *App) handleRecentDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	letters, err := a.store.RecentDeadLetters(ctx, queryLimit(r, 50, 500))
	if err != nil {
		a.logger.Error("failed to load dead letters", "error", err)
		http.Error(w, "failed to load dead letters", http.StatusInternalServerError)
		return
	}

	response := struct {
		DeadLetters []model.DeadLetter `json:"dead_letters"`
	}{DeadLetters: letters}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode dead letters response", "error", err)
	}
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= max {
				limit = parsed
			}
		}
	}
	return limit
}
