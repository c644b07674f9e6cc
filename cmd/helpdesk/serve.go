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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sscollege/helpdesk/pkg/agent"
	"github.com/sscollege/helpdesk/pkg/config"
	"github.com/sscollege/helpdesk/pkg/instruction"
	"github.com/sscollege/helpdesk/pkg/ragengine"
	"github.com/sscollege/helpdesk/pkg/ratelimit"
	"github.com/sscollege/helpdesk/pkg/server"
	"github.com/sscollege/helpdesk/pkg/session"
)

// ServeCmd starts the HTTP service.
type ServeCmd struct {
	Host          string `help:"Interface to bind (default from HOST or 0.0.0.0)."`
	Port          int    `help:"Port to listen on (default from PORT or 8080)."`
	Web           *bool  `negatable:"" help:"Serve the web chat UI at / (default from SERVE_WEB_INTERFACE)."`
	SessionDB     string `name:"session-db" help:"Session store URL: sqlite:///path, postgres://, mysql://, memory://."`
	AgentDir      string `name:"agent-dir" help:"Directory of <name>/agent.yaml definitions." type:"path"`
	PromptVariant string `name:"prompt-variant" help:"Default prompt variant (admissions, documentation)."`
	Model         string `help:"Default Gemini model." default:"${default_model}"`
	Watch         bool   `help:"Reload agent definitions when the agent directory changes."`
	BaseURL       string `name:"base-url" help:"Public base URL advertised on agent cards."`
	History       int    `help:"Number of recent session events sent to the model." default:"${default_history}"`
	RateLimit     string `name:"rate-limit" help:"Agent turns per app and user, e.g. 20/minute,200/day (default from RUN_RATE_LIMIT)."`
}

func (c *ServeCmd) apply(cfg *config.Config) error {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Web != nil {
		cfg.Server.ServeWeb = *c.Web
	}
	if c.SessionDB != "" {
		cfg.Server.SessionDBURL = c.SessionDB
	}
	if c.AgentDir != "" {
		cfg.Server.AgentDir = c.AgentDir
	}
	if c.PromptVariant != "" {
		if _, err := instruction.ParseVariant(c.PromptVariant); err != nil {
			return err
		}
		cfg.Server.PromptVariant = c.PromptVariant
	}
	if c.RateLimit != "" {
		cfg.Server.RunRateLimit = c.RateLimit
	}
	return cfg.Validate()
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	stopTracing, err := cli.startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()
	if err := c.apply(cfg); err != nil {
		return err
	}
	if cfg.RAGCorpus == "" {
		slog.Warn("RAG_CORPUS is not set; answers will not be grounded. Run `helpdesk provision` first.")
	}

	hc, err := ragengine.NewAuthenticatedHTTPClient(ctx, cfg.AccessToken)
	if err != nil {
		return err
	}
	gemini, err := agent.NewGeminiClient(ctx, cfg.Project, cfg.Location, hc)
	if err != nil {
		return err
	}

	pool := config.NewDBPool()
	defer pool.Close()
	sessions, err := session.NewFromURL(cfg.Server.SessionDBURL, pool)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	defaults := agent.Defaults{
		Model:         c.Model,
		Corpus:        cfg.RAGCorpus,
		PromptVariant: cfg.Server.PromptVariant,
	}
	defs, err := agent.Load(cfg.Server.AgentDir, defaults)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	registry := agent.NewRegistry(defs)

	if c.Watch {
		w := agent.NewWatcher(cfg.Server.AgentDir, defaults, registry)
		if err := w.Start(ctx); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			slog.Warn("Agent directory does not exist, hot reload disabled", "dir", cfg.Server.AgentDir)
		}
	}

	runner := agent.NewRunner(registry, sessions, gemini.Models, agent.WithHistoryLimit(c.History))

	opts := []server.Option{server.WithVersion(buildVersion())}
	if c.BaseURL != "" {
		opts = append(opts, server.WithBaseURL(c.BaseURL))
	}
	if limits, _ := ratelimit.ParseLimits(cfg.Server.RunRateLimit); len(limits) > 0 {
		limiter, err := ratelimit.New(limits, ratelimit.NewMemoryStore())
		if err != nil {
			return err
		}
		slog.Info("Rate limiting agent turns", "limits", cfg.Server.RunRateLimit)
		opts = append(opts, server.WithRateLimiter(limiter))
	}
	return server.New(cfg.Server, runner, sessions, opts...).Start(ctx)
}
