package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/config"
	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/telemetry"
)

var (
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output
	dirFlag     string

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// Opened lazily by commands that touch review state
	store storage.Store

	// exitCode is returned from main after cobra's post-run hooks finish.
	// 2 means the review did not converge.
	exitCode int
)

// Exit codes
const (
	exitOK           = 0
	exitFatal        = 1
	exitNotConverged = 2
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Project directory (default: discovered from the working directory)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "review", Title: "Reviewing:"})
	rootCmd.AddGroup(&cobra.Group{ID: "views", Title: "Views & Reports:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "converge - convergence-gated multi-perspective review",
	Long: `Run a review gate against a document or a branch, fix what it finds, and
re-run the whole gate until a round comes back with zero CRITICAL and zero
IMPORTANT findings, or the round limit is reached.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("converge version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()

		if err := config.InitializeFrom(dirFlag); err != nil {
			FatalError("%v", err)
		}
		if !cmd.Flags().Changed("json") && config.GetBool("json") {
			jsonOutput = true
		}
		if projectDir, err := config.FindProjectDir(dirFlag); err == nil {
			debug.SetEventDir(projectDir)
		}

		if err := telemetry.Init(rootCtx, "converge", Version); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
			store = nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)

		if rootCancel != nil {
			rootCancel()
		}
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFatal)
	}
	os.Exit(exitCode)
}
