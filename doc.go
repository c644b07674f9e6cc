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

// Package helpdesk is a retrieval-grounded admissions helpdesk agent.
//
// The provisioning side (pkg/corpus, pkg/ragengine) creates a Vertex AI RAG
// corpus, uploads the admissions document and records the corpus name in
// .env. The serving side (pkg/agent, pkg/server) answers student questions
// with Gemini, grounding each answer in that corpus, and exposes the agent
// over REST, A2A and a small web UI.
//
// Start with the helpdesk command:
//
//	helpdesk provision
//	helpdesk serve
package helpdesk
