package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "college_agent", "description: first\n")

	defs, err := Load(dir, Defaults{})
	require.NoError(t, err)
	registry := NewRegistry(defs)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(dir, Defaults{}, registry, WithDebounce(50*time.Millisecond))
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})

	writeAgent(t, dir, "college_agent", "description: second\n")
	assert.Eventually(t, func() bool {
		d, err := registry.Get("college_agent")
		return err == nil && d.Description == "second"
	}, 5*time.Second, 20*time.Millisecond)

	writeAgent(t, dir, "registrar", "model: gemini-2.5-flash\n")
	assert.Eventually(t, func() bool {
		_, err := registry.Get("registrar")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_KeepsDefinitionsOnBadReload(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "college_agent", "description: good\n")

	defs, err := Load(dir, Defaults{})
	require.NoError(t, err)
	registry := NewRegistry(defs)

	reloaded := make(chan error, 8)
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(dir, Defaults{}, registry,
		WithDebounce(10*time.Millisecond),
		WithReloadHook(func(_ []*Definition, err error) {
			select {
			case reloaded <- err:
			default:
			}
		}),
	)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "college_agent", "agent.yaml"), []byte("prompt_variant: pirate\n"), 0o600))

	select {
	case err := <-reloaded:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	d, err := registry.Get("college_agent")
	require.NoError(t, err)
	assert.Equal(t, "good", d.Description)
}

func TestWatcher_MissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), Defaults{}, NewRegistry(nil))
	assert.Error(t, w.Start(context.Background()))
}
