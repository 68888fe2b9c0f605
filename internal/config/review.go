package config

import "time"

// Review config keys
const (
	KeyReviewMaxRounds = "review.max-rounds"
	KeyReviewTimeout   = "review.timeout"
	KeyReviewDiffBase  = "review.diff-base"

	KeyStorageBackend     = "storage.backend"
	KeyStorageDSN         = "storage.dsn"
	KeyStorageLockTimeout = "storage.lock-timeout"

	KeyWorkerBackend     = "worker.backend"
	KeyWorkerCommand     = "worker.command"
	KeyWorkerModel       = "worker.model"
	KeyWorkerMaxTokens   = "worker.max-tokens"
	KeyWorkerConcurrency = "worker.concurrency"

	KeyGatesPaths = "gates.paths"
)

// ReviewSettings is the resolved configuration for one review session.
type ReviewSettings struct {
	// MaxRounds is the round ceiling for gates that do not set their own (default: 10)
	MaxRounds int `json:"max_rounds" yaml:"max-rounds"`

	// Timeout bounds each WORKER perspective before it falls back to INLINE (default: 5m)
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// DiffBase is the ref diff-by-branch gates diff against (default: main)
	DiffBase string `json:"diff_base" yaml:"diff-base"`

	Storage StorageSettings `json:"storage" yaml:"storage"`
	Worker  WorkerSettings  `json:"worker" yaml:"worker"`

	// GatePaths are extra directories searched for *.gate.toml / *.gate.yaml
	GatePaths []string `json:"gate_paths" yaml:"gate-paths"`
}

// StorageSettings selects the record backend.
type StorageSettings struct {
	Backend     string        `json:"backend" yaml:"backend"`
	DSN         string        `json:"dsn,omitempty" yaml:"dsn"`
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock-timeout"`
}

// WorkerSettings selects how WORKER perspectives are executed.
type WorkerSettings struct {
	// Backend is "command" (run a local CLI, prompt on stdin) or "anthropic"
	Backend   string `json:"backend" yaml:"backend"`
	Command   string `json:"command" yaml:"command"`
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"max_tokens" yaml:"max-tokens"`

	// Concurrency caps WORKER perspectives in flight; 0 means all at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// RegisterReviewDefaults registers default values for review configuration.
// Called from Initialize().
func RegisterReviewDefaults() {
	if v == nil {
		return
	}

	v.SetDefault(KeyReviewMaxRounds, 10)
	v.SetDefault(KeyReviewTimeout, "5m")
	v.SetDefault(KeyReviewDiffBase, "main")

	v.SetDefault(KeyStorageBackend, "file")
	v.SetDefault(KeyStorageDSN, "")
	v.SetDefault(KeyStorageLockTimeout, "30s")

	v.SetDefault(KeyWorkerBackend, "command")
	v.SetDefault(KeyWorkerCommand, "claude -p")
	v.SetDefault(KeyWorkerModel, "claude-haiku-4-5")
	v.SetDefault(KeyWorkerMaxTokens, 4096)
	v.SetDefault(KeyWorkerConcurrency, 0)

	v.SetDefault(KeyGatesPaths, []string{})
}

// GetReviewSettings returns the current review configuration.
func GetReviewSettings() ReviewSettings {
	return ReviewSettings{
		MaxRounds: GetInt(KeyReviewMaxRounds),
		Timeout:   GetDuration(KeyReviewTimeout),
		DiffBase:  GetString(KeyReviewDiffBase),
		Storage: StorageSettings{
			Backend:     GetString(KeyStorageBackend),
			DSN:         GetString(KeyStorageDSN),
			LockTimeout: GetDuration(KeyStorageLockTimeout),
		},
		Worker: WorkerSettings{
			Backend:     GetString(KeyWorkerBackend),
			Command:     GetString(KeyWorkerCommand),
			Model:       GetString(KeyWorkerModel),
			MaxTokens:   GetInt(KeyWorkerMaxTokens),
			Concurrency: GetInt(KeyWorkerConcurrency),
		},
		GatePaths: GetStringSlice(KeyGatesPaths),
	}
}

// KnownKeys lists every key `converge config` accepts.
func KnownKeys() []string {
	return []string{
		KeyReviewMaxRounds, KeyReviewTimeout, KeyReviewDiffBase,
		KeyStorageBackend, KeyStorageDSN, KeyStorageLockTimeout,
		KeyWorkerBackend, KeyWorkerCommand, KeyWorkerModel, KeyWorkerMaxTokens, KeyWorkerConcurrency,
		KeyGatesPaths, "json", "actor",
	}
}

// IsKnownKey reports whether key is a recognized configuration key.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys() {
		if k == key {
			return true
		}
	}
	return false
}
