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

// Package agent runs the helpdesk agents.
//
// An agent is described by a Definition, loaded from AGENT_DIR/<name>/agent.yaml
// or built in. The Runner answers a user message with one Gemini call that has
// the Vertex AI RAG retrieval tool attached, so the platform performs
// retrieval and grounding. Conversation history lives in a session.Service.
package agent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sscollege/helpdesk/pkg/instruction"
)

const (
	// DefaultAgentName is the built-in agent served when AGENT_DIR is empty.
	DefaultAgentName = "college_agent"
	// DefaultModel is the Gemini model used when a definition names none.
	DefaultModel = "gemini-2.0-flash-001"
	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 10

	definitionFile    = "agent.yaml"
	altDefinitionFile = "agent.yml"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Definition describes one agent.
type Definition struct {
	// Name is the app name used in URLs. Defaults to the directory name.
	Name        string `yaml:"name" json:"name" jsonschema:"pattern=^[A-Za-z_][A-Za-z0-9_-]*$"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Model       string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"default=gemini-2.0-flash-001"`

	// PromptVariant selects a built-in system prompt.
	PromptVariant string `yaml:"prompt_variant,omitempty" json:"prompt_variant,omitempty" jsonschema:"enum=admissions,enum=documentation"`
	// Instruction replaces the built-in prompt. It may reference session
	// state with {key}, {app:key}, {user:key} and {key?} placeholders.
	Instruction string `yaml:"instruction,omitempty" json:"instruction,omitempty"`

	Temperature     *float32 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	MaxOutputTokens int32    `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty" jsonschema:"minimum=0"`

	Retrieval Retrieval `yaml:"retrieval,omitempty" json:"retrieval,omitempty"`

	// Examples are sample questions advertised on the agent card.
	Examples []string `yaml:"examples,omitempty" json:"examples,omitempty"`

	variant instruction.Variant
}

// Retrieval configures the RAG retrieval tool.
type Retrieval struct {
	// Corpus is a RAG corpus resource name. Defaults to RAG_CORPUS.
	Corpus string `yaml:"corpus,omitempty" json:"corpus,omitempty"`
	TopK   int    `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"minimum=1,default=10"`
	// VectorDistanceThreshold drops chunks farther than the threshold.
	VectorDistanceThreshold float64 `yaml:"vector_distance_threshold,omitempty" json:"vector_distance_threshold,omitempty" jsonschema:"minimum=0"`
	Disabled                bool    `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Defaults are deployment-wide values applied to every definition.
type Defaults struct {
	Model         string
	Corpus        string
	PromptVariant string
}

// Builtin returns the built-in admissions agent.
func Builtin() *Definition {
	return &Definition{
		Name:        DefaultAgentName,
		Description: "Answers college admissions questions from the admissions document corpus.",
		Examples: []string{
			"When do admissions open?",
			"What documents do I need to apply?",
		},
	}
}

// SetDefaults fills unset fields.
func (d *Definition) SetDefaults(defaults Defaults) {
	if d.Model == "" {
		d.Model = defaults.Model
	}
	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.PromptVariant == "" {
		d.PromptVariant = defaults.PromptVariant
	}
	if d.Retrieval.Corpus == "" {
		d.Retrieval.Corpus = defaults.Corpus
	}
	if d.Retrieval.TopK == 0 {
		d.Retrieval.TopK = DefaultTopK
	}
}

// Validate checks the definition and resolves its prompt variant.
func (d *Definition) Validate() error {
	var errs []error
	if !namePattern.MatchString(d.Name) {
		errs = append(errs, fmt.Errorf("invalid agent name %q", d.Name))
	}
	v, err := instruction.ParseVariant(d.PromptVariant)
	if err != nil {
		errs = append(errs, err)
	}
	d.variant = v
	if d.Temperature != nil && (*d.Temperature < 0 || *d.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0, 2]", *d.Temperature))
	}
	if d.Retrieval.TopK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("agent %q: %w", d.Name, err)
	}
	return nil
}

// Variant returns the resolved prompt variant. Valid after Validate.
func (d *Definition) Variant() instruction.Variant {
	return d.variant
}

// ParseDefinition decodes one agent.yaml. Unknown fields are rejected.
func ParseDefinition(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return &def, nil
		}
		return nil, err
	}
	return &def, nil
}

// LoadDir reads every <dir>/<name>/agent.yaml. A missing dir yields no
// definitions and no error.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent dir: %w", err)
	}

	var defs []*Definition
	seen := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path, ok := findDefinitionFile(filepath.Join(dir, e.Name()))
		if !ok {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		def, err := ParseDefinition(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = e.Name()
		}
		if prev, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("agent %q defined in both %s and %s", def.Name, prev, path)
		}
		seen[def.Name] = path
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func findDefinitionFile(dir string) (string, bool) {
	for _, name := range []string{definitionFile, altDefinitionFile} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Load reads dir, falls back to the built-in agent when it holds no
// definitions, then applies defaults and validates.
func Load(dir string, defaults Defaults) ([]*Definition, error) {
	defs, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		defs = []*Definition{Builtin()}
	}

	var errs []error
	for _, d := range defs {
		d.SetDefaults(defaults)
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return defs, nil
}
