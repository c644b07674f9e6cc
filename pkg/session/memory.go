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

package session

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryService struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	appState  map[string]map[string]any
	userState map[string]map[string]any
}

// InMemoryService returns a Service that keeps sessions in process memory.
func InMemoryService() Service {
	return &memoryService{
		sessions:  make(map[string]*Session),
		appState:  make(map[string]map[string]any),
		userState: make(map[string]map[string]any),
	}
}

func sessionKey(appName, userID, sessionID string) string {
	return appName + "\x00" + userID + "\x00" + sessionID
}

func userKey(appName, userID string) string {
	return appName + "\x00" + userID
}

func (s *memoryService) Create(ctx context.Context, req *CreateRequest) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	key := sessionKey(req.AppName, req.UserID, id)
	if _, ok := s.sessions[key]; ok {
		return nil, ErrSessionExists
	}

	appDelta, userDelta, sessionState := extractStateDeltas(req.State)
	s.mergeScoped(req.AppName, req.UserID, appDelta, userDelta)

	stored := &Session{
		ID:             id,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          sessionState,
		LastUpdateTime: time.Now(),
	}
	s.sessions[key] = stored

	return s.view(stored, 0), nil
}

func (s *memoryService) Get(ctx context.Context, req *GetRequest) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionKey(req.AppName, req.UserID, req.SessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.view(stored, req.NumRecentEvents), nil
}

func (s *memoryService) List(ctx context.Context, req *ListRequest) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, stored := range s.sessions {
		if stored.AppName != req.AppName {
			continue
		}
		if req.UserID != "" && stored.UserID != req.UserID {
			continue
		}
		v := s.view(stored, 0)
		v.Events = nil
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdateTime.After(out[j].LastUpdateTime)
	})
	return out, nil
}

func (s *memoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(req.AppName, req.UserID, req.SessionID))
	return nil
}

func (s *memoryService) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(sess.AppName, sess.UserID, sess.ID)]
	if !ok {
		return ErrSessionNotFound
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	appDelta, userDelta, sessionDelta := extractStateDeltas(event.StateDelta)
	s.mergeScoped(sess.AppName, sess.UserID, appDelta, userDelta)
	if stored.State == nil {
		stored.State = make(map[string]any)
	}
	maps.Copy(stored.State, sessionDelta)
	stored.Events = append(stored.Events, event)
	stored.LastUpdateTime = event.Timestamp

	sess.Events = append(sess.Events, event)
	applyDelta(sess, event.StateDelta)
	sess.LastUpdateTime = stored.LastUpdateTime
	return nil
}

func (s *memoryService) Close() error {
	return nil
}

func (s *memoryService) mergeScoped(appName, userID string, appDelta, userDelta map[string]any) {
	if len(appDelta) > 0 {
		if s.appState[appName] == nil {
			s.appState[appName] = make(map[string]any)
		}
		maps.Copy(s.appState[appName], appDelta)
	}
	if len(userDelta) > 0 {
		key := userKey(appName, userID)
		if s.userState[key] == nil {
			s.userState[key] = make(map[string]any)
		}
		maps.Copy(s.userState[key], userDelta)
	}
}

// view returns a copy of stored with scoped state merged in. Callers may
// mutate it freely.
func (s *memoryService) view(stored *Session, numRecent int) *Session {
	return &Session{
		ID:             stored.ID,
		AppName:        stored.AppName,
		UserID:         stored.UserID,
		State:          mergeStates(s.appState[stored.AppName], s.userState[userKey(stored.AppName, stored.UserID)], stored.State),
		Events:         append([]*Event{}, recentEvents(stored.Events, numRecent)...),
		LastUpdateTime: stored.LastUpdateTime,
	}
}

var _ Service = (*memoryService)(nil)
