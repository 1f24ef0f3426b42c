package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tactical-initiative/internal/engine"
	"github.com/DoyleJ11/tactical-initiative/internal/hub"
	"github.com/DoyleJ11/tactical-initiative/internal/metadata"
	"github.com/DoyleJ11/tactical-initiative/internal/store"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateRoom(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			existing, err := h.Room(r.Context(), c, false)
			if err != nil {
				http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
				return
			}
			if existing == nil {
				code = c
				break
			}
			logger.Debug("collision on code, regenerating", zap.String("room", c))
		}

		if _, err := h.Create(r.Context(), code); err != nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		logger.Info("room created", zap.String("room", code))

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

// RoomState returns the combat document of a running room and how many
// peers are in it. The state is null when no encounter exists.
func RoomState(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		rm, err := h.Room(r.Context(), code, false)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		view, err := rm.View(r.Context())
		if err != nil {
			http.Error(w, "room closed", http.StatusNotFound)
			return
		}

		resp := struct {
			Code    string              `json:"code"`
			Version int                 `json:"version"`
			Peers   int                 `json:"peers"`
			State   *engine.CombatState `json:"state"`
		}{Code: code, Version: view.Version, Peers: view.NumPeers}

		if raw, ok := view.Metadata[metadata.StateKey]; ok {
			st, err := store.Decode(raw)
			if err != nil {
				logger.Warn("stored document unreadable", zap.String("room", code), zap.Error(err))
				http.Error(w, "stored document unreadable", http.StatusInternalServerError)
				return
			}
			resp.State = st
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Actions lists the action catalog grouped for display.
func Actions(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		a, err := engine.LookupAction(engine.ActionID(id))
		if err != nil {
			http.Error(w, "unknown action", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, a)
		return
	}
	writeJSON(w, http.StatusOK, engine.ActionsByCategory())
}

// Healthz reports whether the hub is serving and how many rooms are open.
func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codes, err := h.Rooms(r.Context())
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			Rooms  int    `json:"rooms"`
		}{Status: "ok", Rooms: len(codes)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
