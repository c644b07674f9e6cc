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

package instruction

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// State key prefixes.
const (
	PrefixApp  = "app:"
	PrefixUser = "user:"
	PrefixTemp = "temp:"
)

// ErrStateKeyNotFound is returned by State implementations for absent keys.
var ErrStateKeyNotFound = errors.New("state key not found")

// placeholderRegex matches {variable}, {app:variable}, {variable?}, and
// tolerates doubled braces.
var placeholderRegex = regexp.MustCompile(`{+[^{}]*}+`)

// State is the read side of session state.
type State interface {
	Get(key string) (any, error)
}

// MapState adapts a plain map to State.
type MapState map[string]any

func (m MapState) Get(key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrStateKeyNotFound
	}
	return v, nil
}

// Render resolves placeholders in template from state.
//
//	{variable}       session state
//	{app:variable}   app-scoped state
//	{user:variable}  user-scoped state
//	{temp:variable}  invocation-scoped state
//	{variable?}      optional, empty when absent
//
// A required placeholder that cannot be resolved is an error. Text inside
// braces that is not a valid state name is left as-is, so JSON examples in an
// instruction survive rendering.
func Render(template string, state State) (string, error) {
	if template == "" {
		return "", nil
	}

	var result strings.Builder
	last := 0
	for _, m := range placeholderRegex.FindAllStringIndex(template, -1) {
		start, end := m[0], m[1]
		result.WriteString(template[last:start])

		replacement, err := replaceMatch(state, template[start:end])
		if err != nil {
			return "", err
		}
		result.WriteString(replacement)
		last = end
	}
	result.WriteString(template[last:])
	return result.String(), nil
}

func replaceMatch(state State, match string) (string, error) {
	name := strings.TrimSpace(strings.Trim(match, "{}"))

	optional := false
	if strings.HasSuffix(name, "?") {
		optional = true
		name = strings.TrimSuffix(name, "?")
	}

	if !isValidStateName(name) {
		return match, nil
	}

	if state == nil {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("state key %q: session state not available", name)
	}

	value, err := state.Get(name)
	if err != nil {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("state key %q: %w", name, err)
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", value), nil
}

// HasPlaceholders reports whether template contains placeholder syntax.
func HasPlaceholders(template string) bool {
	return placeholderRegex.MatchString(template)
}

// isValidStateName accepts identifiers and prefixed identifiers.
func isValidStateName(name string) bool {
	parts := strings.Split(name, ":")
	switch len(parts) {
	case 1:
		return isIdentifier(name)
	case 2:
		prefix := parts[0] + ":"
		if slices.Contains([]string{PrefixApp, PrefixUser, PrefixTemp}, prefix) {
			return isIdentifier(parts[1])
		}
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
