package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/sscollege/helpdesk/pkg/config"
	"github.com/sscollege/helpdesk/pkg/ragengine"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("helpdesk"), kong.Vars{
		"default_model":   "gemini-2.0-flash-001",
		"default_history": "40",
	})
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestParse_Serve(t *testing.T) {
	cli, ctx := parse(t, "serve", "--port", "9000", "--no-web", "--session-db", "memory://", "--watch")
	assert.Equal(t, "serve", ctx.Command())
	assert.Equal(t, 9000, cli.Serve.Port)
	require.NotNil(t, cli.Serve.Web)
	assert.False(t, *cli.Serve.Web)
	assert.True(t, cli.Serve.Watch)
	assert.Equal(t, 40, cli.Serve.History)
	assert.Equal(t, "gemini-2.0-flash-001", cli.Serve.Model)
}

func TestServeApply(t *testing.T) {
	cfg, err := config.Load(func(key string) (string, bool) {
		switch key {
		case config.EnvProject:
			return "demo", true
		case config.EnvLocation:
			return "us-central1", true
		}
		return "", false
	})
	require.NoError(t, err)

	web := false
	cmd := &ServeCmd{Port: 9090, Web: &web, SessionDB: "memory://", PromptVariant: "documentation"}
	require.NoError(t, cmd.apply(cfg))
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Server.ServeWeb)
	assert.Equal(t, "memory://", cfg.Server.SessionDBURL)
	assert.Equal(t, "documentation", cfg.Server.PromptVariant)

	require.NoError(t, (&ServeCmd{RateLimit: "3/minute"}).apply(cfg))
	assert.Equal(t, "3/minute", cfg.Server.RunRateLimit)
	assert.Error(t, (&ServeCmd{RateLimit: "3/year"}).apply(cfg))
	cfg.Server.RunRateLimit = ""

	assert.Error(t, (&ServeCmd{PromptVariant: "pirate"}).apply(cfg))
	assert.Error(t, (&ServeCmd{Port: 70000}).apply(cfg))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestInitLoggerFromCLI_EnvFallback(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "debug")
	t.Setenv(LogFormatEnvVar, "verbose")

	level, file, format, cleanup, err := initLoggerFromCLI("", "", "")
	require.NoError(t, err)
	assert.Nil(t, cleanup)
	assert.Equal(t, "debug", level)
	assert.Empty(t, file)
	assert.Equal(t, "verbose", format)

	level, _, _, _, err = initLoggerFromCLI("error", "", "")
	require.NoError(t, err)
	assert.Equal(t, "error", level)
}

// unsetEnv removes keys for the test and restores them afterwards, so dotenv
// loading (which never overrides) can set them.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		old, had := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() {
			if had {
				os.Setenv(key, old)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}

func TestLoadConfig_EnvFileFromEnvironment(t *testing.T) {
	unsetEnv(t, config.EnvProject, config.EnvLocation)
	path := filepath.Join(t.TempDir(), "deploy.env")
	require.NoError(t, os.WriteFile(path, []byte("GOOGLE_CLOUD_PROJECT=demo\nGOOGLE_CLOUD_LOCATION=us-central1\n"), 0o600))
	t.Setenv(config.EnvEnvFile, path)

	cli, _ := parse(t, "provision")
	assert.Equal(t, path, cli.EnvFile)

	cfg, err := cli.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, "us-central1", cfg.Location)
	assert.Equal(t, path, cfg.EnvFile)
}

func TestLoadConfig_FlagOverridesEnvFile(t *testing.T) {
	dir := t.TempDir()
	flagPath := filepath.Join(dir, "flag.env")
	t.Setenv(config.EnvEnvFile, filepath.Join(dir, "ignored.env"))

	cli, _ := parse(t, "--env-file", flagPath, "provision")
	assert.Equal(t, flagPath, cli.EnvFile)
}

func TestInitEnvironment_LoggingFromDotEnv(t *testing.T) {
	unsetEnv(t, LogLevelEnvVar, LogFormatEnvVar, LogFileEnvVar)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nLOG_FORMAT=verbose\n"), 0o600))

	cli, _ := parse(t, "--env-file", path, "version")
	level, cleanup, err := cli.initEnvironment()
	require.NoError(t, err)
	assert.Nil(t, cleanup)
	assert.Equal(t, "debug", level)
	assert.Equal(t, "verbose", os.Getenv(LogFormatEnvVar))
}

func TestPrintFiles_AlwaysReportsTotal(t *testing.T) {
	var buf bytes.Buffer
	printFiles(&buf, nil)
	assert.Equal(t, "Total files in corpus: 0\n", buf.String())

	buf.Reset()
	printFiles(&buf, []*ragengine.File{{Name: "projects/demo/locations/us-central1/ragCorpora/1/ragFiles/9", DisplayName: "ssragcorpus.pdf", SizeBytes: 2048}})
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "ssragcorpus.pdf")
	assert.Contains(t, out, "2048")
	assert.Contains(t, out, "Total files in corpus: 1\n")
}

func TestStartTracing(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg, err := config.Load(func(key string) (string, bool) {
		switch key {
		case config.EnvProject:
			return "demo", true
		case config.EnvLocation:
			return "us-central1", true
		}
		return "", false
	})
	require.NoError(t, err)

	cli, _ := parse(t, "--trace-exporter", "none", "files")
	assert.Equal(t, "none", cli.TraceExporter)
	stop, err := cli.startTracing(context.Background(), cfg)
	require.NoError(t, err)
	stop()

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())

	cli.TraceExporter = "zipkin"
	_, err = cli.startTracing(context.Background(), cfg)
	assert.ErrorContains(t, err, "init tracing")
}
