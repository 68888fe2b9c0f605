package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProjectDirName is the per-project state directory the event log lives in.
const ProjectDirName = ".converge"

var (
	enabled     = os.Getenv("CONVERGE_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
	eventDir    = ""
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetEventDir pins the directory events.log is written to. Empty restores
// discovery by walking up from the working directory.
func SetEventDir(dir string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	eventDir = dir
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// LogEvent writes an event to .converge/events.log
// Format: TIMESTAMP|EVENT_CODE|STORAGE_KEY|ACTOR|DETAILS
func LogEvent(eventCode, key, details string) {
	LogEventWithActor(eventCode, key, "", details)
}

// LogEventWithActor writes an event with an explicit actor
func LogEventWithActor(eventCode, key, actor, details string) {
	logMutex.Lock()
	defer logMutex.Unlock()

	dir := eventDir
	if dir == "" {
		projectRoot, err := findProjectRoot()
		if err != nil {
			// Silent fail if not in a project
			return
		}
		dir = filepath.Join(projectRoot, ProjectDirName)
	}
	logPath := filepath.Join(dir, "events.log")

	if key == "" {
		key = "none"
	}
	if actor == "" {
		actor = os.Getenv("CONVERGE_ACTOR")
		if actor == "" {
			actor = os.Getenv("USER")
			if actor == "" {
				actor = "unknown"
			}
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n", timestamp, eventCode, key, actor, details)

	_ = os.MkdirAll(filepath.Dir(logPath), 0755)

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Silent fail - don't interrupt a review if logging fails
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		stateDir := filepath.Join(dir, ProjectDirName)
		if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a converge project")
		}
		dir = parent
	}
}
