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

package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DatabaseConfig is a parsed session database URL.
type DatabaseConfig struct {
	Driver   string // postgres, mysql or sqlite
	Host     string
	Port     int
	Database string // database name, or file path for sqlite
	Username string
	Password string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// ParseDatabaseURL converts a session store URL into a DatabaseConfig.
//
//	sqlite:///./sessions.db          -> sqlite, ./sessions.db
//	sqlite:///:memory:               -> sqlite, :memory:
//	postgres://u:p@host:5432/db      -> postgres
//	mysql://u:p@host:3306/db         -> mysql
//
// A nil config and nil error are returned for "memory://" and the empty
// string, meaning the in-memory session store.
func ParseDatabaseURL(raw string) (*DatabaseConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "memory://" || raw == "memory" {
		return nil, nil
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, fmt.Errorf("invalid session database url %q: missing scheme", raw)
	}

	switch scheme {
	case "sqlite", "sqlite3":
		// sqlite:///relative/or/absolute -> strip the empty authority
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			return nil, fmt.Errorf("invalid session database url %q: missing path", raw)
		}
		cfg := &DatabaseConfig{Driver: "sqlite", Database: path}
		cfg.SetDefaults()
		return cfg, nil

	case "postgres", "postgresql", "mysql":
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid session database url: %w", err)
		}
		driver := scheme
		if driver == "postgresql" {
			driver = "postgres"
		}
		cfg := &DatabaseConfig{
			Driver:   driver,
			Host:     u.Hostname(),
			Database: strings.TrimPrefix(u.Path, "/"),
			SSLMode:  u.Query().Get("sslmode"),
		}
		if p := u.Port(); p != "" {
			if cfg.Port, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("invalid port in session database url: %q", p)
			}
		}
		if u.User != nil {
			cfg.Username = u.User.Username()
			cfg.Password, _ = u.User.Password()
		}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("unsupported session database scheme %q (supported: sqlite, postgres, mysql, memory)", scheme)
	}
}

// SetDefaults fills pool sizes, well-known ports and the postgres sslmode.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	switch {
	case c.Driver == "postgres" && c.Port == 0:
		c.Port = 5432
	case c.Driver == "mysql" && c.Port == 0:
		c.Port = 3306
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks that a networked database names its host and database.
func (c *DatabaseConfig) Validate() error {
	switch c.Dialect() {
	case "postgres", "mysql":
		if c.Host == "" {
			return fmt.Errorf("%s session database url needs a host", c.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported session database driver %q", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("%s session database url needs a database", c.Driver)
	}
	return nil
}

// DSN renders the driver specific connection string.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case "postgres":
		parts := []string{
			"host=" + c.Host,
			"port=" + strconv.Itoa(c.Port),
			"dbname=" + c.Database,
		}
		if c.Username != "" {
			parts = append(parts, "user="+c.Username)
		}
		if c.Password != "" {
			parts = append(parts, "password="+c.Password)
		}
		if c.SSLMode != "" {
			parts = append(parts, "sslmode="+c.SSLMode)
		}
		return strings.Join(parts, " ")
	case "mysql":
		auth := ""
		if c.Username != "" {
			auth = c.Username + ":" + c.Password + "@"
		}
		return fmt.Sprintf("%stcp(%s)/%s?parseTime=true", auth, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect folds driver aliases: sqlite3 becomes sqlite.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
