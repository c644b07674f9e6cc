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

// Package session stores helpdesk conversations.
//
// A session belongs to an app (agent) and a user and carries a state map and
// an ordered event history. State keys prefixed with app: are shared by every
// session of the app, user: keys by every session of the user, and temp: keys
// are never persisted.
package session

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"
)

// State key prefixes.
const (
	KeyPrefixApp  = "app:"
	KeyPrefixUser = "user:"
	KeyPrefixTemp = "temp:"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session with a taken id.
	ErrSessionExists = errors.New("session already exists")
)

// Session is one conversation.
type Session struct {
	ID             string         `json:"id"`
	AppName        string         `json:"appName"`
	UserID         string         `json:"userId"`
	State          map[string]any `json:"state"`
	Events         []*Event       `json:"events"`
	LastUpdateTime time.Time      `json:"lastUpdateTime"`
}

// Event is one turn in a session, authored by the user or an agent.
type Event struct {
	ID           string         `json:"id"`
	InvocationID string         `json:"invocationId,omitempty"`
	Author       string         `json:"author"`
	Content      *Content       `json:"content,omitempty"`
	StateDelta   map[string]any `json:"stateDelta,omitempty"`
	Citations    []Citation     `json:"citations,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Content is a message body.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a fragment of a message. Only text is supported.
type Part struct {
	Text string `json:"text,omitempty"`
}

// Text concatenates the text parts of c.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Citation references a retrieved document backing an answer.
type Citation struct {
	Title string `json:"title"`
	URI   string `json:"uri,omitempty"`
}

// Service manages session lifecycle and persistence.
type Service interface {
	Create(ctx context.Context, req *CreateRequest) (*Session, error)
	Get(ctx context.Context, req *GetRequest) (*Session, error)
	// List returns sessions without their events.
	List(ctx context.Context, req *ListRequest) ([]*Session, error)
	Delete(ctx context.Context, req *DeleteRequest) error
	// AppendEvent persists event and applies its state delta. sess is
	// updated in place.
	AppendEvent(ctx context.Context, sess *Session, event *Event) error
	Close() error
}

// CreateRequest contains parameters for creating a session.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string // generated if empty
	State     map[string]any
}

// GetRequest contains parameters for retrieving a session.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentEvents limits the history to the N most recent events. Zero
	// returns all events.
	NumRecentEvents int
}

// ListRequest contains parameters for listing sessions.
type ListRequest struct {
	AppName string
	UserID  string
}

// DeleteRequest contains parameters for deleting a session.
type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// extractStateDeltas splits a state map by scope. temp: keys are dropped.
func extractStateDeltas(state map[string]any) (appDelta, userDelta, sessionDelta map[string]any) {
	appDelta = make(map[string]any)
	userDelta = make(map[string]any)
	sessionDelta = make(map[string]any)

	for key, value := range state {
		switch {
		case strings.HasPrefix(key, KeyPrefixApp):
			appDelta[strings.TrimPrefix(key, KeyPrefixApp)] = value
		case strings.HasPrefix(key, KeyPrefixUser):
			userDelta[strings.TrimPrefix(key, KeyPrefixUser)] = value
		case strings.HasPrefix(key, KeyPrefixTemp):
		default:
			sessionDelta[key] = value
		}
	}
	return appDelta, userDelta, sessionDelta
}

// mergeStates combines scoped state into the view a session sees.
func mergeStates(appState, userState, sessionState map[string]any) map[string]any {
	merged := make(map[string]any, len(appState)+len(userState)+len(sessionState))
	maps.Copy(merged, sessionState)
	for k, v := range appState {
		merged[KeyPrefixApp+k] = v
	}
	for k, v := range userState {
		merged[KeyPrefixUser+k] = v
	}
	return merged
}

// applyDelta merges delta into sess.State, skipping temp: keys.
func applyDelta(sess *Session, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if sess.State == nil {
		sess.State = make(map[string]any)
	}
	for k, v := range delta {
		if strings.HasPrefix(k, KeyPrefixTemp) {
			continue
		}
		sess.State[k] = v
	}
}

func recentEvents(events []*Event, n int) []*Event {
	if n > 0 && len(events) > n {
		return events[len(events)-n:]
	}
	return events
}
