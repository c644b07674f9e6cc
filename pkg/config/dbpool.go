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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const pingTimeout = 10 * time.Second

// DBPool shares one *sql.DB per DSN across the process.
type DBPool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewDBPool creates an empty pool.
func NewDBPool() *DBPool {
	return &DBPool{dbs: make(map[string]*sql.DB)}
}

// OpenURL resolves a session database URL to a pooled connection.
// The in-memory store URL yields a nil DB and config.
func (p *DBPool) OpenURL(rawURL string) (*sql.DB, *DatabaseConfig, error) {
	cfg, err := ParseDatabaseURL(rawURL)
	if err != nil || cfg == nil {
		return nil, nil, err
	}
	db, err := p.Get(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// Get returns the connection for cfg, opening and verifying it on first use.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DSN()
	if db, ok := p.dbs[key]; ok {
		return db, nil
	}

	db, err := sql.Open(cfg.DriverName(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect(), err)
	}
	applyLimits(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Dialect(), err)
	}
	if cfg.Dialect() == "sqlite" && cfg.Database != ":memory:" {
		tuneSQLite(ctx, db)
	}

	p.dbs[key] = db
	return db, nil
}

// applyLimits sizes the pool. SQLite allows a single writer, so it gets one
// connection; an in-memory SQLite database lives only as long as that
// connection and is never recycled.
func applyLimits(db *sql.DB, cfg *DatabaseConfig) {
	if cfg.Dialect() == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if cfg.Database != ":memory:" {
			db.SetConnMaxLifetime(time.Hour)
		}
		return
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)
}

func tuneSQLite(ctx context.Context, db *sql.DB) {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=10000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			slog.Warn("SQLite pragma failed", "pragma", pragma, "error", err)
		}
	}
}

// Close closes every pooled connection.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	clear(p.dbs)
	return errors.Join(errs...)
}
