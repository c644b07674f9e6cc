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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store keeps window counters.
type Store interface {
	// Get returns the count and window end. An expired or missing record
	// reads as zero with a window starting now.
	Get(ctx context.Context, identifier string, window TimeWindow) (int64, time.Time, error)
	// Add increments the counter, starting a new window when the current one
	// has expired.
	Add(ctx context.Context, identifier string, window TimeWindow, amount int64) (int64, time.Time, error)
	// DeleteExpired drops records whose window ended before t.
	DeleteExpired(ctx context.Context, before time.Time) error
}

type usageKey struct {
	identifier string
	window     TimeWindow
}

type usageRecord struct {
	amount    int64
	windowEnd time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[usageKey]*usageRecord
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[usageKey]*usageRecord), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, identifier string, window TimeWindow) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.data[usageKey{identifier, window}]
	if !ok || !rec.windowEnd.After(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return rec.amount, rec.windowEnd, nil
}

func (s *MemoryStore) Add(_ context.Context, identifier string, window TimeWindow, amount int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := usageKey{identifier, window}
	rec, ok := s.data[key]
	if !ok || !rec.windowEnd.After(now) {
		rec = &usageRecord{windowEnd: now.Add(window.Duration())}
		s.data[key] = rec
	}
	rec.amount += amount
	return rec.amount, rec.windowEnd, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, rec := range s.data {
		if rec.windowEnd.Before(before) {
			delete(s.data, k)
		}
	}
	return nil
}
