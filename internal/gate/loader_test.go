package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/converge/internal/types"
)

const tomlGate = `
id = "api"
description = "API review"
artifact_kind = "document-path"
max_rounds = 4
timeout = "90s"

[[perspectives]]
id = "compat"
name = "Compatibility"
payload = "check breaking changes"

[[perspectives]]
id = "style"
mode = "inline"
payload = "check naming"
`

const yamlGate = `
id: design
description: replaced builtin
artifact_kind: document-path
perspectives:
  - id: only
    mode: WORKER
    payload: one lens
`

func TestParseTOML(t *testing.T) {
	g, err := ParseTOML([]byte(tomlGate))
	require.NoError(t, err)
	assert.Equal(t, "api", g.ID)
	assert.Equal(t, types.ArtifactDocumentPath, g.ArtifactKind)
	assert.Equal(t, 4, g.MaxRounds)
	assert.Equal(t, 90*time.Second, g.Timeout)
	require.Len(t, g.Perspectives, 2)
	assert.Equal(t, types.ModeWorker, g.Perspectives[0].Mode, "mode defaults to WORKER")
	assert.Equal(t, types.ModeInline, g.Perspectives[1].Mode)
	assert.Equal(t, []string{"compat", "style"}, g.PerspectiveIDs())
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad kind", "id: x\nartifact_kind: tarball\nperspectives: [{id: a}]\n"},
		{"no perspectives", "id: x\nartifact_kind: document-path\n"},
		{"dup perspective", "id: x\nartifact_kind: document-path\nperspectives: [{id: a}, {id: a}]\n"},
		{"bad mode", "id: x\nartifact_kind: document-path\nperspectives: [{id: a, mode: remote}]\n"},
		{"bad timeout", "id: x\nartifact_kind: document-path\ntimeout: soon\nperspectives: [{id: a}]\n"},
		{"no id", "artifact_kind: document-path\nperspectives: [{id: a}]\n"},
		{"id with slash", "id: ../escape\nartifact_kind: document-path\nperspectives: [{id: a}]\n"},
		{"id with separator", "id: pr--code\nartifact_kind: document-path\nperspectives: [{id: a}]\n"},
		{"id with space", "id: 'my gate'\nartifact_kind: document-path\nperspectives: [{id: a}]\n"},
		{"dots only", "id: '..'\nartifact_kind: document-path\nperspectives: [{id: a}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoaderOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	gatesDir := filepath.Join(dir, "gates")
	require.NoError(t, os.MkdirAll(gatesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(gatesDir, "api.gate.toml"), []byte(tomlGate), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(gatesDir, "design.gate.yaml"), []byte(yamlGate), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(gatesDir, "notes.txt"), []byte("ignored"), 0644))

	reg := NewRegistry()
	require.NoError(t, RegisterBuiltinGates(reg))
	l := &Loader{searchPaths: []string{gatesDir, filepath.Join(dir, "missing")}}
	require.NoError(t, l.LoadInto(reg))

	api, err := reg.Lookup("api")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(gatesDir, "api.gate.toml"), api.Source)

	design, err := reg.Lookup(GateDesign)
	require.NoError(t, err)
	assert.Equal(t, "replaced builtin", design.Description)
	assert.Len(t, design.Perspectives, 1)
}

func TestLoaderEarlierPathWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(first, "a.gate.yaml"), []byte(yamlGate), 0644))
	other := "id: design\ndescription: later\nartifact_kind: document-path\nperspectives: [{id: b}]\n"
	require.NoError(t, os.WriteFile(filepath.Join(second, "b.gate.yaml"), []byte(other), 0644))

	l := &Loader{searchPaths: []string{first, second}}
	gates, err := l.LoadAll()
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, "replaced builtin", gates[0].Description)
}
