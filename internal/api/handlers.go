package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

type enterRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.Enter(r.Context(), req.Address, req.Amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.engine.Snapshot())
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"eligible": s.engine.CheckEligibility(r.Context()),
	})
}

func (s *Server) handleTriggerSelection(w http.ResponseWriter, r *http.Request) {
	requestID, err := s.engine.TriggerSelection(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"request_id": requestID})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	address, err := s.engine.Player(index)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "address": address})
}

func (s *Server) handleWinner(w http.ResponseWriter, r *http.Request) {
	winner := s.engine.RecentWinner()
	if winner == "" {
		writeError(w, http.StatusNotFound, "no winner yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent_winner": winner})
}

func (s *Server) handleDraws(w http.ResponseWriter, r *http.Request) {
	draws, err := s.store.ListDraws(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list draws")
		return
	}
	if draws == nil {
		draws = []raffle.Draw{}
	}
	writeJSON(w, http.StatusOK, draws)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListEntries(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []raffle.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents streams raffle events over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := s.bus.Subscribe()
	defer s.bus.Unsubscribe(client)

	// Reader loop only to observe the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case evt, ok := <-client.Chan():
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

// writeEngineError maps engine errors onto HTTP statuses per the error
// taxonomy: admission errors are client errors, trigger errors carry the
// diagnostic snapshot, fulfillment errors are server-side.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var notNeeded *raffle.UpkeepNotNeededError
	switch {
	case errors.Is(err, raffle.ErrInsufficientEntranceFee):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, raffle.ErrRaffleNotOpen):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notNeeded):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "upkeep not needed",
			"balance": notNeeded.Balance,
			"players": notNeeded.Players,
			"state":   notNeeded.State,
		})
	default:
		s.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 50
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
