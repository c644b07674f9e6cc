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

// Package instruction holds the system prompts of the helpdesk agent and the
// placeholder templating used for custom agent instructions.
//
// Two prompt variants exist. VariantAdmissions is the active one; the
// documentation variant is kept for deployments that want strict citations.
package instruction

import (
	"fmt"
	"strings"
)

// RetrievalToolName is the tool the prompts tell the model to use.
const RetrievalToolName = "ask_vertex_retrieval"

// Variant selects a system prompt.
type Variant int

const (
	// VariantAdmissions answers college admissions questions.
	VariantAdmissions Variant = iota
	// VariantDocumentation answers from documents and appends citations.
	VariantDocumentation
)

var variantNames = map[Variant]string{
	VariantAdmissions:    "admissions",
	VariantDocumentation: "documentation",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Variants lists all variants in declaration order.
func Variants() []Variant {
	return []Variant{VariantAdmissions, VariantDocumentation}
}

// ParseVariant maps a configuration value to a Variant. Legacy names v1 and
// v0 are accepted.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "admissions", "v1":
		return VariantAdmissions, nil
	case "documentation", "docs", "v0":
		return VariantDocumentation, nil
	default:
		return 0, fmt.Errorf("unknown prompt variant %q (valid: admissions, documentation)", s)
	}
}

// Default returns the active variant.
func Default() Variant {
	return VariantAdmissions
}

// Instructions returns the system prompt for v. Unknown values fall back to
// the default variant.
func Instructions(v Variant) string {
	switch v {
	case VariantDocumentation:
		return documentationPrompt
	default:
		return admissionsPrompt
	}
}

const admissionsPrompt = `You are a friendly AI assistant for Sullamussalam Science College.
Your role is to provide accurate and concise answers to questions based
on information accessible to you using a retrieval tool (ask_vertex_retrieval).

If you believe the user is just chatting and having casual conversation, don't use the retrieval tool.
But if the user is asking a specific question about college admissions knowledge,
use the retrieval tool to fetch the most relevant information.

If you are not certain about the user intent, ask clarifying questions before answering.
If you use the retrieval tool but cannot find the required information,
clearly state that you do not have enough information to answer. Do not attempt to answer without sufficient information.

Do not answer questions that are outside the scope of college admissions.
When crafting your answer, be direct, concise, and deliver responses quickly.
Do not reveal your internal process or how you used the retrieval tool.
`

const documentationPrompt = `You are a Documentation Assistant. Your role is to provide accurate and concise
answers to questions based on documents that are retrievable using ask_vertex_retrieval. If you believe
the user is just discussing, don't use the retrieval tool. But if the user is asking a question and you are
uncertain about a query, ask clarifying questions; if you cannot
provide an answer, clearly explain why.

When crafting your answer,
you may use the retrieval tool to fetch code references or additional
details. Citation Format Instructions:

When you provide an
answer, you must also add one or more citations **at the end** of
your answer. If your answer is derived from only one retrieved chunk,
include exactly one citation. If your answer uses multiple chunks
from different files, provide multiple citations. If two or more
chunks came from the same file, cite that file only once.

**How to cite:**
- Use the retrieved chunk's ` + "`title`" + ` to reconstruct the reference.
- Include the document title and section if available.
- For web resources, include the full URL when available.

Format the citations at the end of your answer under a heading like
"Citations" or "References." For example:
"Citations:
1) RAG Guide: Implementation Best Practices
2) Advanced Retrieval Techniques: Vector Search Methods"

Do not
reveal your internal chain-of-thought or how you used the chunks.
Simply provide concise and factual answers, and then list the
relevant citation(s) at the end. If you are not certain or the
information is not available, clearly state that you do not have
enough information.
`
