package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/config"
	"github.com/steveyegge/converge/internal/storage/factory"
)

// gitignoreTemplate keeps per-machine review state out of version control.
// Gate files and config.yaml are meant to be committed.
const gitignoreTemplate = `# converge review state (per machine)
state/
state.db*
archive.jsonl
events.log
`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create a .converge directory in the current project",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root := workDir()
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				FatalError("%v", err)
			}
			root = cwd
		}
		projectDir := filepath.Join(root, config.ProjectDirName)

		created, err := initProject(projectDir)
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"path": projectDir, "created": created})
			return
		}
		if !created {
			fmt.Printf("%s already exists\n", projectDir)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Initialized %s\n", green("✓"), projectDir)
		fmt.Printf("  Add gate files under %s\n", filepath.Join(projectDir, "gates"))
		fmt.Printf("  Run 'converge gates list' to see the builtin gates\n")
	},
}

// initProject creates the project layout. Existing files are left alone;
// created reports whether the directory was new.
func initProject(projectDir string) (created bool, err error) {
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		created = true
	}
	for _, dir := range []string{projectDir, filepath.Join(projectDir, "gates"), filepath.Join(projectDir, factory.StateDirName)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	gitignore := filepath.Join(projectDir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte(gitignoreTemplate), 0o600); err != nil {
			return false, fmt.Errorf("write %s: %w", gitignore, err)
		}
	}
	return created, nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
