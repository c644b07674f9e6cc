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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a fixed accounting window.
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
)

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Limit caps the number of turns in a window.
type Limit struct {
	Window TimeWindow
	Max    int64
}

func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.Max, l.Window)
}

// ParseLimits parses "20/minute,200/day". An empty string yields no limits.
func ParseLimits(s string) ([]Limit, error) {
	var limits []Limit
	var errs []error
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, w, ok := strings.Cut(part, "/")
		if !ok {
			errs = append(errs, fmt.Errorf("rate limit %q: want N/window", part))
			continue
		}
		count, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil || count <= 0 {
			errs = append(errs, fmt.Errorf("rate limit %q: count must be a positive integer", part))
			continue
		}
		window := TimeWindow(strings.ToLower(strings.TrimSpace(w)))
		if window.Duration() == 0 {
			errs = append(errs, fmt.Errorf("rate limit %q: unknown window %q (valid: minute, hour, day)", part, w))
			continue
		}
		limits = append(limits, Limit{Window: window, Max: count})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return limits, nil
}

// Usage is the state of one limit for an identifier.
type Usage struct {
	Window    TimeWindow `json:"window"`
	Current   int64      `json:"current"`
	Limit     int64      `json:"limit"`
	Remaining int64      `json:"remaining"`
	WindowEnd time.Time  `json:"window_end"`
}

// CheckResult is the outcome of CheckAndRecord.
type CheckResult struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Usages     []Usage       `json:"usages"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// mostRestrictive returns the usage with the fewest remaining turns.
func (r *CheckResult) mostRestrictive() *Usage {
	var best *Usage
	for i := range r.Usages {
		u := &r.Usages[i]
		if best == nil || u.Remaining < best.Remaining {
			best = u
		}
	}
	return best
}
