package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WorkerEnv holds the worker binary's runtime configuration loaded from
// environment variables, so containers can be launched without flags.
type WorkerEnv struct {
	// ConfigPath is the path of pmodel.yml (from PMODEL_CONFIG)
	ConfigPath string

	// RunID identifies the submission the worker belongs to (from PMODEL_RUN_ID)
	RunID string

	// Assignments are the worker assignments to run (from PMODEL_ASSIGNMENTS)
	// Expected format: semicolon-separated, e.g. "0;1;2@snap.json#1"
	Assignments []string

	// Seed overrides the configured base seed (from PMODEL_SEED)
	Seed *int64

	// RedisURL overrides feed.redis_url (from REDIS_URL)
	RedisURL string
}

// LoadWorkerEnv reads and validates the worker environment.
// Returns an error if any required variable is missing or invalid.
func LoadWorkerEnv() (*WorkerEnv, error) {
	env := &WorkerEnv{
		ConfigPath: os.Getenv("PMODEL_CONFIG"),
		RunID:      os.Getenv("PMODEL_RUN_ID"),
		RedisURL:   os.Getenv("REDIS_URL"),
	}

	for _, a := range strings.Split(os.Getenv("PMODEL_ASSIGNMENTS"), ";") {
		if a = strings.TrimSpace(a); a != "" {
			env.Assignments = append(env.Assignments, a)
		}
	}

	if raw := os.Getenv("PMODEL_SEED"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PMODEL_SEED as an integer: %w", err)
		}
		env.Seed = &seed
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	return env, nil
}

// Validate checks that all required fields are present.
func (e *WorkerEnv) Validate() error {
	if e.ConfigPath == "" {
		return fmt.Errorf("PMODEL_CONFIG environment variable is required")
	}

	if len(e.Assignments) == 0 {
		return fmt.Errorf("PMODEL_ASSIGNMENTS environment variable is required (e.g. \"0;1;2\")")
	}

	return nil
}

// Environ renders the variables for a child process or container.
func (e *WorkerEnv) Environ() []string {
	vars := []string{
		"PMODEL_CONFIG=" + e.ConfigPath,
		"PMODEL_ASSIGNMENTS=" + strings.Join(e.Assignments, ";"),
	}
	if e.RunID != "" {
		vars = append(vars, "PMODEL_RUN_ID="+e.RunID)
	}
	if e.Seed != nil {
		vars = append(vars, "PMODEL_SEED="+strconv.FormatInt(*e.Seed, 10))
	}
	if e.RedisURL != "" {
		vars = append(vars, "REDIS_URL="+e.RedisURL)
	}
	return vars
}

// Apply overrides the loaded configuration with the environment.
func (e *WorkerEnv) Apply(c *Config) {
	if e.Seed != nil {
		c.Seed = *e.Seed
	}
	if e.RedisURL != "" {
		if c.Feed == nil {
			c.Feed = &FeedConfig{}
		}
		c.Feed.RedisURL = e.RedisURL
	}
}
