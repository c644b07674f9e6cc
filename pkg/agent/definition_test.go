package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sscollege/helpdesk/pkg/instruction"
)

const testCorpus = "projects/demo/locations/us-central1/ragCorpora/7"

func writeAgent(t *testing.T, dir, name, body string) {
	t.Helper()
	sub := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "agent.yaml"), []byte(body), 0o600))
}

func TestLoad_FallsBackToBuiltin(t *testing.T) {
	defs, err := Load(filepath.Join(t.TempDir(), "missing"), Defaults{Corpus: testCorpus})
	require.NoError(t, err)
	require.Len(t, defs, 1)

	d := defs[0]
	assert.Equal(t, DefaultAgentName, d.Name)
	assert.Equal(t, DefaultModel, d.Model)
	assert.Equal(t, testCorpus, d.Retrieval.Corpus)
	assert.Equal(t, DefaultTopK, d.Retrieval.TopK)
	assert.Equal(t, instruction.VariantAdmissions, d.Variant())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "registrar", `
description: Registrar office questions
model: gemini-2.5-flash
prompt_variant: documentation
temperature: 0.2
retrieval:
  top_k: 3
  vector_distance_threshold: 0.5
`)
	writeAgent(t, dir, "admissions", "name: college_agent\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not an agent"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	defs, err := Load(dir, Defaults{Model: "gemini-2.0-flash-001", Corpus: testCorpus})
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "college_agent", defs[0].Name)
	assert.Equal(t, "gemini-2.0-flash-001", defs[0].Model)

	reg := defs[1]
	assert.Equal(t, "registrar", reg.Name)
	assert.Equal(t, "gemini-2.5-flash", reg.Model)
	assert.Equal(t, instruction.VariantDocumentation, reg.Variant())
	require.NotNil(t, reg.Temperature)
	assert.InDelta(t, 0.2, *reg.Temperature, 1e-6)
	assert.Equal(t, 3, reg.Retrieval.TopK)
	assert.Equal(t, 0.5, reg.Retrieval.VectorDistanceThreshold)
	assert.Equal(t, testCorpus, reg.Retrieval.Corpus)
}

func TestLoadDir_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "bad", "modle: gemini\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modle")
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "a", "name: same\n")
	writeAgent(t, dir, "b", "name: same\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"same"`)
}

func TestValidate(t *testing.T) {
	hot := float32(3)
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"bad name", Definition{Name: "has space"}, "invalid agent name"},
		{"bad variant", Definition{Name: "a", PromptVariant: "pirate"}, "unknown prompt variant"},
		{"bad temperature", Definition{Name: "a", Temperature: &hot}, "temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDefinition_Empty(t *testing.T) {
	def, err := ParseDefinition(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, def.Name)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry([]*Definition{{Name: "b"}, {Name: "a"}})
	assert.Equal(t, []string{"b", "a"}, r.Names())

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	r.Replace([]*Definition{{Name: "c"}})
	assert.Equal(t, []string{"c"}, r.Names())
	_, err = r.Get("a")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Len(t, r.All(), 1)
}

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "prompt_variant")
	assert.Contains(t, props, "retrieval")
	assert.Equal(t, false, doc["additionalProperties"])
}
