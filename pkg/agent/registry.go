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

package agent

import (
	"errors"
	"sync"
)

// ErrAgentNotFound is returned for unknown app names.
var ErrAgentNotFound = errors.New("agent not found")

// Registry holds the current agent definitions. It is safe for concurrent
// use and can be swapped wholesale on reload.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates a registry holding defs.
func NewRegistry(defs []*Definition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace swaps in a new set of definitions.
func (r *Registry) Replace(defs []*Definition) {
	m := make(map[string]*Definition, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		if _, ok := m[d.Name]; !ok {
			order = append(order, d.Name)
		}
		m[d.Name] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = m
	r.order = order
}

// Get returns the definition named name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return d, nil
}

// Names returns agent names in load order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns every definition in load order.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}
