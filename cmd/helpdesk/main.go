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

// Command helpdesk runs the college admissions helpdesk.
//
// Usage:
//
//	helpdesk provision                  create the corpus, upload the document, write RAG_CORPUS
//	helpdesk serve                      start the HTTP service on :8080
//	helpdesk files                      list the documents in RAG_CORPUS
//	helpdesk instructions --variant documentation
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sscollege/helpdesk"
	"github.com/sscollege/helpdesk/pkg/agent"
	"github.com/sscollege/helpdesk/pkg/config"
	"github.com/sscollege/helpdesk/pkg/observability"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve        ServeCmd        `cmd:"" help:"Start the helpdesk HTTP service."`
	Provision    ProvisionCmd    `cmd:"" help:"Ensure the RAG corpus exists, upload the document and persist RAG_CORPUS."`
	Corpora      CorporaCmd      `cmd:"" help:"List RAG corpora in the project."`
	Files        FilesCmd        `cmd:"" help:"List documents in a RAG corpus."`
	Instructions InstructionsCmd `cmd:"" help:"Print an agent system prompt."`
	Schema       SchemaCmd       `cmd:"" help:"Print the JSON Schema of agent.yaml."`
	Version      VersionCmd      `cmd:"" help:"Show version information."`

	EnvFile   string `name:"env-file" env:"ENV_FILE" help:"Dotenv file loaded at startup and written by provision." default:".env" type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or text)."`

	TraceExporter string `name:"trace-exporter" help:"Span exporter: none, console or otlp (default from OTEL_TRACES_EXPORTER)."`
}

// initEnvironment seeds the process environment from the dotenv file, then
// initializes logging so LOG_* keys from that file apply.
func (c *CLI) initEnvironment() (level string, cleanup func(), err error) {
	if err := config.LoadDotEnv(c.EnvFile); err != nil {
		return "", nil, err
	}
	level, _, _, cleanup, err = initLoggerFromCLI(c.LogLevel, c.LogFile, c.LogFormat)
	return level, cleanup, err
}

// loadConfig builds the validated configuration. The dotenv file is loaded
// again so commands also work when called without initEnvironment.
func (c *CLI) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(c.EnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if c.EnvFile != "" {
		cfg.EnvFile = c.EnvFile
	}
	return cfg, nil
}

// startTracing installs the tracer provider for cfg. The returned function
// flushes pending spans.
func (c *CLI) startTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	if c.TraceExporter != "" {
		cfg.Tracing.Exporter = c.TraceExporter
	}
	_, shutdown, err := observability.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if cfg.Tracing.Enabled() {
		slog.Info("Tracing enabled", "exporter", cfg.Tracing.Exporter, "service", cfg.Tracing.ServiceName)
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("Flushing spans failed", "error", err)
		}
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func buildVersion() string {
	return helpdesk.GetVersion().Version
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(helpdesk.GetVersion())
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("helpdesk"),
		kong.Description("College admissions helpdesk backed by Vertex AI RAG and Gemini."),
		kong.UsageOnError(),
		kong.Vars{
			"default_model":   agent.DefaultModel,
			"default_history": strconv.Itoa(agent.DefaultHistoryLimit),
		},
	)

	_, cleanup, err := cli.initEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := ctx.Run(&cli); err != nil {
		slog.Error("Command failed", "error", err)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}
