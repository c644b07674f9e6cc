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
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limiter admits or rejects turns per identifier.
type Limiter struct {
	limits []Limit
	store  Store
	mu     sync.Mutex
}

// New creates a Limiter. At least one limit is required.
func New(limits []Limit, store Store) (*Limiter, error) {
	if len(limits) == 0 {
		return nil, errors.New("at least one limit is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Limiter{limits: limits, store: store}, nil
}

// Limits returns the configured limits.
func (l *Limiter) Limits() []Limit {
	return append([]Limit(nil), l.limits...)
}

// CheckAndRecord admits amount turns for identifier when every window has
// room, and records them. Rejected requests are not counted.
func (l *Limiter) CheckAndRecord(ctx context.Context, identifier string, amount int64) (*CheckResult, error) {
	if identifier == "" {
		return nil, errors.New("identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.check(ctx, identifier, amount)
	if err != nil || !result.Allowed {
		return result, err
	}

	for i, limit := range l.limits {
		current, windowEnd, err := l.store.Add(ctx, identifier, limit.Window, amount)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", limit, err)
		}
		result.Usages[i].Current = current
		result.Usages[i].Remaining = max(limit.Max-current, 0)
		result.Usages[i].WindowEnd = windowEnd
	}
	return result, nil
}

func (l *Limiter) check(ctx context.Context, identifier string, amount int64) (*CheckResult, error) {
	result := &CheckResult{Allowed: true, Usages: make([]Usage, 0, len(l.limits))}

	for _, limit := range l.limits {
		current, windowEnd, err := l.store.Get(ctx, identifier, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", limit, err)
		}
		result.Usages = append(result.Usages, Usage{
			Window:    limit.Window,
			Current:   current,
			Limit:     limit.Max,
			Remaining: max(limit.Max-current, 0),
			WindowEnd: windowEnd,
		})

		if current+amount > limit.Max {
			retry := time.Until(windowEnd)
			if result.Allowed || retry > result.RetryAfter {
				result.RetryAfter = retry
			}
			if result.Allowed {
				result.Reason = fmt.Sprintf("limit of %d turns per %s reached", limit.Max, limit.Window)
			}
			result.Allowed = false
		}
	}
	return result, nil
}

// Cleanup drops expired counters every interval until ctx is cancelled.
func (l *Limiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_ = l.store.DeleteExpired(ctx, now)
		}
	}
}
