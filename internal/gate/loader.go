package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/converge/internal/types"
)

// Gate file extensions. TOML is preferred, YAML is accepted.
const (
	GateExtTOML = ".gate.toml"
	GateExtYAML = ".gate.yaml"
	GateExtYML  = ".gate.yml"
)

// gateFile is the on-disk shape of a gate definition.
type gateFile struct {
	ID           string            `toml:"id" yaml:"id"`
	Description  string            `toml:"description" yaml:"description"`
	ArtifactKind string            `toml:"artifact_kind" yaml:"artifact_kind"`
	MaxRounds    int               `toml:"max_rounds" yaml:"max_rounds"`
	Timeout      string            `toml:"timeout" yaml:"timeout"`
	Perspectives []perspectiveFile `toml:"perspectives" yaml:"perspectives"`
}

type perspectiveFile struct {
	ID      string `toml:"id" yaml:"id"`
	Name    string `toml:"name" yaml:"name"`
	Mode    string `toml:"mode" yaml:"mode"`
	Payload string `toml:"payload" yaml:"payload"`
}

// Loader reads gate definitions from a list of directories.
type Loader struct {
	searchPaths []string
}

// NewLoader creates a loader. With no paths, the default search paths are
// used: .converge/gates under projectDir, then ~/.converge/gates.
func NewLoader(projectDir string, extra ...string) *Loader {
	var paths []string
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, "gates"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".converge", "gates"))
	}
	paths = append(paths, extra...)
	return &Loader{searchPaths: paths}
}

// SearchPaths returns the directories the loader scans, in order.
func (l *Loader) SearchPaths() []string {
	return append([]string(nil), l.searchPaths...)
}

// LoadAll parses every gate file on the search path. A gate ID defined in an
// earlier directory wins over the same ID in a later one.
func (l *Loader) LoadAll() ([]*Gate, error) {
	seen := make(map[string]bool)
	var gates []*Gate
	for _, dir := range l.searchPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read gate dir %s: %w", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && isGateFile(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			g, err := ParseFile(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			if seen[g.ID] {
				continue
			}
			seen[g.ID] = true
			gates = append(gates, g)
		}
	}
	return gates, nil
}

// LoadInto registers every file-defined gate into reg, overriding builtins.
func (l *Loader) LoadInto(reg *Registry) error {
	gates, err := l.LoadAll()
	if err != nil {
		return err
	}
	for _, g := range gates {
		if err := reg.Override(g); err != nil {
			return err
		}
	}
	return nil
}

func isGateFile(name string) bool {
	return strings.HasSuffix(name, GateExtTOML) || strings.HasSuffix(name, GateExtYAML) || strings.HasSuffix(name, GateExtYML)
}

// ParseFile parses a gate from a file path, detecting the format from the extension.
func ParseFile(path string) (*Gate, error) {
	// #nosec G304 -- path comes from the gate search path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var g *Gate
	if strings.HasSuffix(path, GateExtTOML) {
		g, err = ParseTOML(data)
	} else {
		g, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	g.Source = path
	return g, nil
}

// ParseTOML parses a gate from TOML bytes.
func ParseTOML(data []byte) (*Gate, error) {
	var f gateFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	return f.toGate()
}

// ParseYAML parses a gate from YAML bytes.
func ParseYAML(data []byte) (*Gate, error) {
	var f gateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return f.toGate()
}

func (f *gateFile) toGate() (*Gate, error) {
	g := &Gate{
		ID:           f.ID,
		Description:  f.Description,
		ArtifactKind: types.ArtifactKind(strings.ToLower(f.ArtifactKind)),
		MaxRounds:    f.MaxRounds,
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return nil, fmt.Errorf("gate %q: invalid timeout %q: %w", f.ID, f.Timeout, err)
		}
		g.Timeout = d
	}
	for _, p := range f.Perspectives {
		mode := types.ExecutionMode(strings.ToUpper(p.Mode))
		if mode == "" {
			mode = types.ModeWorker
		}
		g.Perspectives = append(g.Perspectives, Perspective{
			ID:      p.ID,
			Name:    p.Name,
			Mode:    mode,
			Payload: p.Payload,
		})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
