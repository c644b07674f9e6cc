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

package session

import (
	"fmt"
	"log/slog"

	"github.com/sscollege/helpdesk/pkg/config"
)

// NewFromURL creates a Service for a session database URL such as
// sqlite:///./sessions.db, postgres://... or memory://.
// SQL connections come from pool so they can be shared and closed together.
func NewFromURL(rawURL string, pool *config.DBPool) (Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("DBPool is required")
	}

	db, dbCfg, err := pool.OpenURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if db == nil {
		slog.Info("Using in-memory session store")
		return InMemoryService(), nil
	}

	svc, err := NewSQLService(db, dbCfg.Dialect())
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	slog.Info("Using SQL session store", "driver", dbCfg.Driver, "database", dbCfg.Database)
	return svc, nil
}
