// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sscollege/helpdesk/pkg/agent"
	"github.com/sscollege/helpdesk/pkg/ratelimit"
	"github.com/sscollege/helpdesk/pkg/session"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(webUIHTML)
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Registry().Names())
}

type createSessionBody struct {
	State map[string]any `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	sess, err := s.sessions.Create(r.Context(), &session.CreateRequest{
		AppName:   chi.URLParam(r, "app"),
		UserID:    chi.URLParam(r, "user"),
		SessionID: chi.URLParam(r, "session"),
		State:     body.State,
	})
	if err != nil {
		s.logger.Debug("Create session failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), &session.GetRequest{
		AppName:   chi.URLParam(r, "app"),
		UserID:    chi.URLParam(r, "user"),
		SessionID: chi.URLParam(r, "session"),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context(), &session.ListRequest{
		AppName: chi.URLParam(r, "app"),
		UserID:  chi.URLParam(r, "user"),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if list == nil {
		list = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.Delete(r.Context(), &session.DeleteRequest{
		AppName:   chi.URLParam(r, "app"),
		UserID:    chi.URLParam(r, "user"),
		SessionID: chi.URLParam(r, "session"),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req agent.RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.AppName == "" || req.UserID == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "appName, userId and sessionId are required")
		return
	}

	limit, err := s.admit(r.Context(), &req, "rest")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit != nil && !limit.Allowed {
		ratelimit.WriteLimited(w, limit)
		return
	}
	ratelimit.WriteHeaders(w, limit)

	events, err := s.run(r.Context(), &req, "rest")
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// admit charges one turn against the caller's quota. A nil result means no
// limiter is configured.
func (s *Server) admit(ctx context.Context, req *agent.RunRequest, transport string) (*ratelimit.CheckResult, error) {
	if s.limiter == nil {
		return nil, nil
	}
	res, err := s.limiter.CheckAndRecord(ctx, req.AppName+"/"+req.UserID, 1)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if !res.Allowed {
		s.logger.Info("Agent turn rate limited", "app", req.AppName, "user", req.UserID, "reason", res.Reason)
		app := req.AppName
		if _, err := s.runner.Registry().Get(app); err != nil {
			app = "unknown"
		}
		s.metrics.runs.WithLabelValues(app, transport, "rate_limited").Inc()
	}
	return res, nil
}

// run executes one turn and records metrics.
func (s *Server) run(ctx context.Context, req *agent.RunRequest, transport string) ([]*session.Event, error) {
	start := time.Now()
	events, err := s.runner.Run(ctx, req)

	app := req.AppName
	if errors.Is(err, agent.ErrAgentNotFound) {
		app = "unknown"
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		s.logger.Warn("Agent run failed", "app", req.AppName, "session", req.SessionID, "error", err)
	case len(events) > 0 && events[len(events)-1].ErrorMessage != "":
		outcome = "no_answer"
	}
	s.metrics.runs.WithLabelValues(app, transport, outcome).Inc()
	if err == nil {
		s.metrics.runDuration.WithLabelValues(app).Observe(time.Since(start).Seconds())
		if len(events) > 0 {
			s.metrics.citations.Observe(float64(len(events[len(events)-1].Citations)))
		}
	}
	return events, err
}
