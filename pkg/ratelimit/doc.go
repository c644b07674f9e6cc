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

// Package ratelimit enforces per-identifier turn quotas over fixed windows.
//
// Limits are written as "N/window" pairs, e.g. "20/minute,200/day". A request
// is admitted only when every window has room; admitted requests count
// against all windows at once.
//
//	limiter, _ := ratelimit.New(limits, ratelimit.NewMemoryStore())
//	res, err := limiter.CheckAndRecord(ctx, "college_agent/u1", 1)
//	if !res.Allowed {
//		ratelimit.WriteLimited(w, res)
//	}
package ratelimit
