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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/go-chi/chi/v5"

	"github.com/sscollege/helpdesk/pkg/agent"
	"github.com/sscollege/helpdesk/pkg/session"
)

// metaUserID is the message metadata key carrying the caller's user id.
const metaUserID = "user_id"

const defaultA2AUser = "a2a"

func (s *Server) agentCard(def *agent.Definition) *a2a.AgentCard {
	skill := a2a.AgentSkill{
		ID:          def.Name,
		Name:        def.Name,
		Description: def.Description,
		Tags:        []string{"admissions", "rag"},
		Examples:    def.Examples,
	}
	return &a2a.AgentCard{
		Name:               def.Name,
		Description:        def.Description,
		URL:                strings.TrimSuffix(s.baseURL, "/") + "/a2a/" + def.Name,
		Version:            s.version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             []a2a.AgentSkill{skill},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "College Helpdesk",
			URL: strings.TrimSuffix(s.baseURL, "/"),
		},
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	def := r.Context().Value(definitionKey).(*agent.Definition)
	a2asrv.NewStaticAgentCardHandler(s.agentCard(def)).ServeHTTP(w, r)
}

// handleDefaultAgentCard serves the card of the first loaded agent.
func (s *Server) handleDefaultAgentCard(w http.ResponseWriter, r *http.Request) {
	all := s.runner.Registry().All()
	if len(all) == 0 {
		writeError(w, http.StatusNotFound, "no agents loaded")
		return
	}
	a2asrv.NewStaticAgentCardHandler(s.agentCard(all[0])).ServeHTTP(w, r)
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	def, err := s.runner.Registry().Get(chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.a2aHandler(def).ServeHTTP(w, r)
}

// a2aHandler returns the JSON-RPC handler for def, cached per agent name.
// A reloaded definition replaces its entry, which drops that handler's task
// state; handlers of removed agents are pruned.
func (s *Server) a2aHandler(def *agent.Definition) http.Handler {
	s.a2aMu.Lock()
	defer s.a2aMu.Unlock()

	// Drop handlers of agents that a reload removed.
	for name := range s.a2aHandlers {
		if _, err := s.runner.Registry().Get(name); err != nil {
			delete(s.a2aHandlers, name)
		}
	}

	if cached, ok := s.a2aHandlers[def.Name]; ok && cached.def == def {
		return cached.handler
	}

	exec := &executor{server: s, app: def.Name}
	h := a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(exec))
	s.a2aHandlers[def.Name] = a2aEntry{def: def, handler: h}
	return h
}

// a2aEntry is the JSON-RPC handler built for one definition.
type a2aEntry struct {
	def     *agent.Definition
	handler http.Handler
}

// executor adapts the Runner to a2asrv. The A2A context id is the session id.
type executor struct {
	server *Server
	app    string
}

var _ a2asrv.AgentExecutor = (*executor)(nil)

func (e *executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return fmt.Errorf("message not provided")
	}

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return fmt.Errorf("failed to write submitted event: %w", err)
		}
	}

	userID := defaultA2AUser
	if uid, ok := msg.Metadata[metaUserID].(string); ok && uid != "" {
		userID = uid
	}
	if err := e.ensureSession(ctx, userID, reqCtx.ContextID); err != nil {
		return queue.Write(ctx, failedEvent(reqCtx, err))
	}

	if err := queue.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		return err
	}

	req := &agent.RunRequest{
		AppName:    e.app,
		UserID:     userID,
		SessionID:  reqCtx.ContextID,
		NewMessage: toContent(msg),
	}
	limit, err := e.server.admit(ctx, req, "a2a")
	if err != nil {
		return queue.Write(ctx, failedEvent(reqCtx, err))
	}
	if limit != nil && !limit.Allowed {
		return queue.Write(ctx, failedEvent(reqCtx, fmt.Errorf("%s; retry in %s", limit.Reason, limit.RetryAfter.Round(time.Second))))
	}

	events, err := e.server.run(ctx, req, "a2a")
	if err != nil {
		return queue.Write(ctx, failedEvent(reqCtx, err))
	}

	answer := events[len(events)-1]
	if answer.ErrorMessage != "" {
		return queue.Write(ctx, failedEvent(reqCtx, fmt.Errorf("%s", answer.ErrorMessage)))
	}

	parts := []a2a.Part{a2a.TextPart{Text: answer.Content.Text()}}
	if len(answer.Citations) > 0 {
		parts = append(parts, a2a.DataPart{Data: map[string]any{"citations": citationData(answer.Citations)}})
	}
	if err := queue.Write(ctx, a2a.NewArtifactEvent(reqCtx, parts...)); err != nil {
		return err
	}

	done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
	done.Final = true
	return queue.Write(ctx, done)
}

func (e *executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

func (e *executor) ensureSession(ctx context.Context, userID, sessionID string) error {
	sessions := e.server.sessions
	_, err := sessions.Get(ctx, &session.GetRequest{AppName: e.app, UserID: userID, SessionID: sessionID, NumRecentEvents: 1})
	if err == nil {
		return nil
	}
	_, err = sessions.Create(ctx, &session.CreateRequest{AppName: e.app, UserID: userID, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func toContent(msg *a2a.Message) *session.Content {
	content := &session.Content{Role: agent.AuthorUser}
	for _, p := range msg.Parts {
		if tp, ok := p.(a2a.TextPart); ok && tp.Text != "" {
			content.Parts = append(content.Parts, session.Part{Text: tp.Text})
		}
	}
	return content
}

func citationData(cs []session.Citation) []any {
	out := make([]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, map[string]any{"title": c.Title, "uri": c.URI})
	}
	return out
}

func failedEvent(reqCtx *a2asrv.RequestContext, cause error) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: cause.Error()})
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
	ev.Final = true
	return ev
}
