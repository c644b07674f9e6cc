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

// Package server exposes the helpdesk agents over HTTP.
//
// Routes:
//
//	GET    /health
//	GET    /list-apps
//	GET    /apps/{app}/users/{user}/sessions
//	POST   /apps/{app}/users/{user}/sessions[/{session}]
//	GET    /apps/{app}/users/{user}/sessions/{session}
//	DELETE /apps/{app}/users/{user}/sessions/{session}
//	POST   /run                    429 when the turn quota is spent
//	GET    /apps/{app}/agent-card.json
//	GET    /.well-known/agent-card.json
//	POST   /a2a/{app}              A2A JSON-RPC
//	GET    /metrics
//	GET    /                       web UI, when enabled
//
// Errors are JSON objects of the form {"error": "..."}.
package server
