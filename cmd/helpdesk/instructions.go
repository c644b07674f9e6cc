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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sscollege/helpdesk/pkg/agent"
	"github.com/sscollege/helpdesk/pkg/instruction"
)

// InstructionsCmd prints a system prompt.
type InstructionsCmd struct {
	Variant string `help:"Prompt variant (admissions, documentation)." default:"admissions"`
	List    bool   `help:"List variant names instead."`
}

func (c *InstructionsCmd) Run() error {
	if c.List {
		for _, v := range instruction.Variants() {
			marker := " "
			if v == instruction.Default() {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, v)
		}
		return nil
	}
	v, err := instruction.ParseVariant(c.Variant)
	if err != nil {
		return err
	}
	fmt.Println(instruction.Instructions(v))
	return nil
}

// SchemaCmd prints the agent definition schema.
type SchemaCmd struct {
	Output  string `short:"o" help:"Write to a file instead of stdout." type:"path"`
	Compact bool   `help:"Output compact JSON."`
}

func (c *SchemaCmd) Run() error {
	var (
		data []byte
		err  error
	)
	if c.Compact {
		data, err = json.Marshal(agent.Schema())
	} else {
		data, err = json.MarshalIndent(agent.Schema(), "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if c.Output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(c.Output, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Schema written to %s\n", c.Output)
	return nil
}
