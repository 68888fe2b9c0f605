package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetYamlConfigCreatesNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ProjectDirName)
	if err := SetYamlConfig(dir, KeyReviewMaxRounds, "4"); err != nil {
		t.Fatal(err)
	}
	if err := SetYamlConfig(dir, KeyReviewTimeout, "90s"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{"review:", "max-rounds: 4", "timeout: 90s"} {
		if !strings.Contains(got, want) {
			t.Errorf("config.yaml missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "review:") != 1 {
		t.Errorf("review mapping duplicated:\n%s", got)
	}
}

func TestSetYamlConfigPreservesComments(t *testing.T) {
	dir := t.TempDir()
	content := "# team settings\nreview:\n  max-rounds: 10 # ceiling\nworker:\n  backend: command\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := SetYamlConfig(dir, KeyReviewMaxRounds, "6"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, ConfigFileName))
	got := string(data)
	if !strings.Contains(got, "# team settings") || !strings.Contains(got, "# ceiling") {
		t.Errorf("comments lost:\n%s", got)
	}
	if !strings.Contains(got, "max-rounds: 6") || !strings.Contains(got, "backend: command") {
		t.Errorf("unexpected content:\n%s", got)
	}
}

func TestSetYamlConfigList(t *testing.T) {
	dir := t.TempDir()
	if err := SetYamlConfig(dir, KeyGatesPaths, "/a, /b"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if !strings.Contains(string(data), "- /a") || !strings.Contains(string(data), "- /b") {
		t.Errorf("list not written as sequence:\n%s", data)
	}
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{KeyReviewMaxRounds, "3", false},
		{KeyReviewMaxRounds, "0", true},
		{KeyReviewMaxRounds, "ten", true},
		{KeyReviewTimeout, "5m", false},
		{KeyReviewTimeout, "soon", true},
		{KeyStorageBackend, "mysql", false},
		{KeyStorageBackend, "dolt", true},
		{KeyWorkerBackend, "anthropic", false},
		{KeyWorkerBackend, "openai", true},
		{KeyWorkerCommand, "anything goes", false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := ValidateValue(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateValue(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}
}
