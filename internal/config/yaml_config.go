package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the project config file inside .converge.
const ConfigFileName = "config.yaml"

// SetYamlConfig sets key to value in the config.yaml inside projectDir,
// creating the file if needed. Dotted keys address nested mappings, so
// "review.max-rounds" edits max-rounds under review. Comments and the order
// of unrelated keys are preserved.
func SetYamlConfig(projectDir, key, value string) error {
	if key == "" {
		return fmt.Errorf("config key is required")
	}
	configPath := filepath.Join(projectDir, ConfigFileName)

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is inside the project dir
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	var doc yaml.Node
	if len(strings.TrimSpace(string(content))) > 0 {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("failed to parse config.yaml: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config.yaml: top level must be a mapping")
	}

	setYamlNode(root, strings.Split(key, "."), yamlValueNode(key, value))

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode config.yaml: %w", err)
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

func setYamlNode(m *yaml.Node, path []string, val *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != path[0] {
			continue
		}
		if len(path) == 1 {
			val.HeadComment = m.Content[i+1].HeadComment
			val.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = val
			return
		}
		child := m.Content[i+1]
		if child.Kind != yaml.MappingNode {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			m.Content[i+1] = child
		}
		setYamlNode(child, path[1:], val)
		return
	}

	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path[0]}
	if len(path) == 1 {
		m.Content = append(m.Content, keyNode, val)
		return
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, keyNode, child)
	setYamlNode(child, path[1:], val)
}

// yamlValueNode types value the way viper will read it back: booleans and
// integers as such, comma-separated lists for slice keys, everything else
// (durations included) as strings.
func yamlValueNode(key, value string) *yaml.Node {
	if key == KeyGatesPaths {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part})
			}
		}
		return seq
	}
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: lower}
	}
	if _, err := strconv.Atoi(value); err == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: value}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// ValidateValue checks value against the type the key expects.
func ValidateValue(key, value string) error {
	switch key {
	case KeyReviewMaxRounds, KeyWorkerMaxTokens:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer (got %q)", key, value)
		}
	case KeyWorkerConcurrency:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be zero or a positive integer (got %q)", key, value)
		}
	case KeyReviewTimeout, KeyStorageLockTimeout:
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration like 5m or 30s (got %q)", key, value)
		}
	case KeyStorageBackend:
		switch value {
		case "file", "sqlite", "mysql", "memory":
		default:
			return fmt.Errorf("%s must be one of file, sqlite, mysql, memory (got %q)", key, value)
		}
	case KeyWorkerBackend:
		if value != "command" && value != "anthropic" {
			return fmt.Errorf("%s must be command or anthropic (got %q)", key, value)
		}
	}
	return nil
}
