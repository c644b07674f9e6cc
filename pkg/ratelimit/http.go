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
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

// WriteHeaders sets X-RateLimit-* headers from the most restrictive limit.
func WriteHeaders(w http.ResponseWriter, result *CheckResult) {
	if result == nil {
		return
	}
	u := result.mostRestrictive()
	if u == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(u.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(u.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(u.WindowEnd.Unix(), 10))
}

// WriteLimited answers 429 with a Retry-After header and a JSON error body.
func WriteLimited(w http.ResponseWriter, result *CheckResult) {
	WriteHeaders(w, result)
	retry := int64(math.Ceil(result.RetryAfter.Seconds()))
	if retry > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":               result.Reason,
		"retry_after_seconds": retry,
	})
}
