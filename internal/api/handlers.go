package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/scraper"
)

const defaultScrapeLimit = 100

type messageRequest struct {
	Text string `json:"text"`
}

// messageResponse carries the reply even when the turn failed part-way.
type messageResponse struct {
	dialog.Reply
	Error string `json:"error,omitempty"`
}

type scrapeRequest struct {
	Group string `json:"group"`
	Limit int    `json:"limit"`
}

type scrapeResponse struct {
	Group    string                 `json:"group"`
	Members  []scraper.MemberRecord `json:"members"`
	Audience scraper.Audience       `json:"audience"`
	File     string                 `json:"file,omitempty"`
}

type toolRequest struct {
	Params map[string]string `json:"params"`
}

// postMessage handles POST /api/v1/dialog/{userID}/messages
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := s.deps.Dialogs.Handle(r.Context(), userID, req.Text)
	resp := messageResponse{Reply: reply}
	if err != nil {
		s.logger.Warn("dialog turn failed", "user_id", userID, "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// getDialog handles GET /api/v1/dialog/{userID}
func (s *Server) getDialog(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	st, found, err := s.deps.Dialogs.State(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no active dialog")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// deleteDialog handles DELETE /api/v1/dialog/{userID}
func (s *Server) deleteDialog(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Dialogs.Reset(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scrape handles POST /api/v1/scrape
func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scraper == nil {
		writeError(w, http.StatusServiceUnavailable, "platform gateway not configured")
		return
	}

	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Group = strings.TrimSpace(req.Group)
	if req.Group == "" {
		writeError(w, http.StatusBadRequest, "group is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultScrapeLimit
	}

	members, err := s.deps.Scraper.Scrape(r.Context(), req.Group, req.Limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "scrape failed: "+err.Error())
		return
	}

	resp := scrapeResponse{
		Group:    req.Group,
		Members:  members,
		Audience: scraper.Analyze(members),
	}
	if s.deps.MembersFile != "" {
		if err := scraper.SaveJSON(s.deps.MembersFile, members); err != nil {
			s.logger.Warn("failed to save members file", "path", s.deps.MembersFile, "error", err)
		} else {
			resp.File = s.deps.MembersFile
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// runTool handles POST /api/v1/tools/{name}
func (s *Server) runTool(w http.ResponseWriter, r *http.Request) {
	var req toolRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	res := s.deps.Tools.Execute(r.Context(), chi.URLParam(r, "name"), req.Params)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, res)
}

// stats handles GET /api/v1/stats
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	cat := s.deps.Catalog.Current()
	out := map[string]any{
		"agent": cat.Agent().Name,
		"goals": cat.Goals(),
		"model": s.deps.Model,
	}

	active, err := s.deps.Dialogs.ActiveDialogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out["active_dialogs"] = active

	if s.deps.Leads != nil {
		n, err := s.deps.Leads.CountLeads(r.Context())
		if err != nil {
			s.logger.Warn("failed to count leads", "error", err)
		} else {
			out["leads"] = n
		}
	}
	writeJSON(w, http.StatusOK, out)
}
