package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/penwork/internal/config"
)

const JobPaysheetReconcile = "paysheet_reconcile"

// Config controls scheduler intervals and job timeouts.
type Config struct {
	RunInterval time.Duration
	// JobTimeout bounds a single job run; a run that hits it is logged, not failed.
	JobTimeout  time.Duration
	EnabledJobs []string
	// Disabled turns the run loop off, e.g. for API-only replicas.
	Disabled bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 5 * time.Minute,
		JobTimeout:  time.Minute,
	}
}

// ProvideConfig reads scheduler settings from the environment.
func ProvideConfig(cfg config.Config) Config {
	out := Config{
		RunInterval: cfg.Scheduler.RunInterval,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		Disabled:    !cfg.Scheduler.Enabled,
	}
	for _, job := range strings.Split(cfg.Scheduler.Jobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			out.EnabledJobs = append(out.EnabledJobs, job)
		}
	}
	return out.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
