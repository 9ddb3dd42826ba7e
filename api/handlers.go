package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// defaultHistoryLimit bounds history responses when no limit is given
const defaultHistoryLimit = 50

// ProviderState describes one provider in API responses
type ProviderState struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Enabled   bool                 `json:"enabled"`
	Selected  bool                 `json:"selected"`
	Syncing   bool                 `json:"syncing"`
	State     string               `json:"state"`
	Status    string               `json:"status,omitempty"`
	Snapshot  *quotawatch.Snapshot `json:"snapshot,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// StatusResponse aggregates the monitor's view of every provider
type StatusResponse struct {
	Overall           string          `json:"overall"`
	Selected          string          `json:"selected"`
	SelectedProviders []string        `json:"selected_providers"`
	Monitoring        bool            `json:"monitoring"`
	Providers         []ProviderState `json:"providers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	selected := s.selectedSet()
	providers := s.repo.All()
	states := make([]ProviderState, 0, len(providers))
	for _, p := range providers {
		states = append(states, s.providerState(p, selected))
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider")
	if providerID != "" {
		p, ok := s.repo.Get(providerID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", providerID))
			return
		}
		snapshot := p.Snapshot()
		if snapshot == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no snapshot for provider %q", providerID))
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	snapshots := make([]*quotawatch.Snapshot, 0)
	for _, p := range s.repo.All() {
		if snapshot := p.Snapshot(); snapshot != nil {
			snapshots = append(snapshots, snapshot)
		}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleLowest(w http.ResponseWriter, r *http.Request) {
	lowest := s.monitor.LowestQuota()
	if lowest == nil {
		writeError(w, http.StatusNotFound, "no quota data")
		return
	}
	writeJSON(w, http.StatusOK, lowest)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not configured")
		return
	}

	providerID := r.URL.Query().Get("provider")
	if providerID == "" {
		writeError(w, http.StatusBadRequest, "provider query parameter is required")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	snapshots, err := s.history.Recent(r.Context(), providerID, limit)
	if err != nil {
		s.logger.Error("history query failed",
			quotawatch.Field{Key: "provider", Value: providerID},
			quotawatch.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if snapshots == nil {
		snapshots = []*quotawatch.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	s.monitor.RefreshAll(ctx)
	s.writeStatus(w)
}

func (s *Server) handleRefreshOne(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.monitor.Refresh(ctx, providerID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	p, _ := s.repo.Get(providerID)
	writeJSON(w, http.StatusOK, s.providerState(p, s.selectedSet()))
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	selected := s.selectedSet()
	providers := s.repo.All()
	states := make([]ProviderState, 0, len(providers))
	for _, p := range providers {
		states = append(states, s.providerState(p, selected))
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Overall:           s.monitor.OverallStatus().String(),
		Selected:          s.monitor.SelectedStatus().String(),
		SelectedProviders: s.monitor.SelectedProviderIDs(),
		Monitoring:        s.monitor.IsMonitoring(),
		Providers:         states,
	})
}

func (s *Server) providerState(p *quotawatch.Provider, selected map[string]bool) ProviderState {
	state := ProviderState{
		ID:       p.ID(),
		Name:     p.Name(),
		Enabled:  p.Enabled(),
		Selected: selected[p.ID()],
		Syncing:  p.IsSyncing(),
		State:    p.State().String(),
		Snapshot: p.Snapshot(),
	}
	if err := p.LastError(); err != nil {
		state.Error = err.Error()
		state.ErrorCode = quotawatch.ErrorCode(err)
	}
	if state.Snapshot != nil {
		state.Status = state.Snapshot.OverallStatus().String()
	}
	return state
}

func (s *Server) selectedSet() map[string]bool {
	ids := s.monitor.SelectedProviderIDs()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already committed; nothing left to do.
		_ = err
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
