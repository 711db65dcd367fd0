// Package svcconfig loads and hot-reloads the JSON-file-backed
// configuration for svckit-based daemons: scheduler pool sizes, TCP buffer
// sizes, child-monitor tick, log level, and verbosity.
package svcconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Config holds the tunables a svckit-based daemon reads at startup and may
// reload at runtime.
type Config struct {
	path string
	mu   sync.RWMutex

	changedCh chan struct{}

	SchedulerMaxTasks  int           `json:"scheduler_max_tasks"`
	SchedulerMaxTimers int           `json:"scheduler_max_timers"`
	TCPBufferSize      int           `json:"tcp_buffer_size"`
	ChildMonitorTick   time.Duration `json:"child_monitor_tick"`
	LogLevel           string        `json:"log_level"`
	Verbose            bool          `json:"verbose"`
}

// Default returns a Config populated with sane defaults, no backing file.
func Default() *Config {
	return &Config{
		changedCh:          make(chan struct{}, 1),
		SchedulerMaxTasks:  1024,
		SchedulerMaxTimers: 64,
		TCPBufferSize:      4096,
		ChildMonitorTick:   1 * time.Second,
		LogLevel:           "info",
	}
}

// New creates a Config bound to path without loading it yet.
func New(path string) *Config {
	c := Default()
	c.path = path
	return c
}

// Load reads and parses the JSON file at path into a new Config seeded with
// defaults for any field the file omits.
func Load(path string) (*Config, error) {
	c := New(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("svcconfig: reading %s: %w", path, err)
	}
	if err := c.applyJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the backing file and applies any changes, signalling
// Changed() if the reload succeeds.
func (c *Config) Reload() error {
	if c.path == "" {
		return fmt.Errorf("svcconfig: config has no backing file")
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("svcconfig: reloading %s: %w", c.path, err)
	}
	if err := c.applyJSON(data); err != nil {
		return err
	}
	select {
	case c.changedCh <- struct{}{}:
	default:
	}
	return nil
}

// Changed returns a channel that receives a value after each successful
// Reload.
func (c *Config) Changed() <-chan struct{} {
	return c.changedCh
}

func (c *Config) applyJSON(data []byte) error {
	var parsed Config
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("svcconfig: parsing config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed.SchedulerMaxTasks > 0 {
		c.SchedulerMaxTasks = parsed.SchedulerMaxTasks
	}
	if parsed.SchedulerMaxTimers > 0 {
		c.SchedulerMaxTimers = parsed.SchedulerMaxTimers
	}
	if parsed.TCPBufferSize > 0 {
		c.TCPBufferSize = parsed.TCPBufferSize
	}
	if parsed.ChildMonitorTick > 0 {
		c.ChildMonitorTick = parsed.ChildMonitorTick
	}
	if parsed.LogLevel != "" {
		c.LogLevel = parsed.LogLevel
	}
	c.Verbose = parsed.Verbose
	return nil
}

// Snapshot returns a copy of the config's current field values, safe to
// read without holding the lock further.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	cp.changedCh = nil
	return cp
}
