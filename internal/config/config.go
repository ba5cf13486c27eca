// Package config loads and validates the cleanup policy. Every fatal
// configuration problem is raised here, before any network call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/filter"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/duration"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/pattern"
)

// ValidationError is a fatal pre-flight configuration problem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config is the full declarative policy plus connection settings.
// Immutable once validated.
type Config struct {
	Backend     string `yaml:"backend"`
	RegistryURL string `yaml:"registry-url"`

	Owner    string `yaml:"owner"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`

	Packages []string `yaml:"packages"`

	DryRun         bool     `yaml:"dry-run"`
	KeepNTagged    int      `yaml:"keep-n-tagged"`
	KeepNUntagged  int      `yaml:"keep-n-untagged"`
	DeleteUntagged bool     `yaml:"delete-untagged"`
	DeleteTags     []string `yaml:"delete-tags"`
	ExcludeTags    []string `yaml:"exclude-tags"`
	OlderThan      string   `yaml:"older-than"`
	DeleteGhost    bool     `yaml:"delete-ghost-images"`
	DeletePartial  bool     `yaml:"delete-partial-images"`
	DeleteOrphaned bool     `yaml:"delete-orphaned-images"`
	Validate       bool     `yaml:"validate"`

	Retries  int `yaml:"retries"`
	Throttle int `yaml:"throttle"` // milliseconds
	Timeout  int `yaml:"timeout"`  // seconds

	LogLevel string `yaml:"log-level"`

	olderThan time.Duration
}

// Default returns a config with the connection defaults applied.
func Default() *Config {
	return &Config{
		Backend:  string(registry.BackendAuto),
		Retries:  3,
		Throttle: 1000,
		Timeout:  30,
		LogLevel: "info",
	}
}

// LoadFile overlays YAML policy from path onto the config. Fields the
// file does not set keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables. Both REGCLEAN_* names and the
// INPUT_* names a CI runner injects for action inputs are honored, the
// former winning.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookupEnv(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return &ValidationError{Field: key, Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
		*dst = parsed
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookupEnv(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: key, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		*dst = parsed
		return nil
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookupEnv(key); ok {
			*dst = splitList(v)
		}
	}

	str("BACKEND", &c.Backend)
	str("REGISTRY_URL", &c.RegistryURL)
	str("OWNER", &c.Owner)
	str("USERNAME", &c.Username)
	str("PASSWORD", &c.Password)
	str("TOKEN", &c.Token)
	str("OLDER_THAN", &c.OlderThan)
	str("LOG_LEVEL", &c.LogLevel)
	list("PACKAGES", &c.Packages)
	list("DELETE_TAGS", &c.DeleteTags)
	list("EXCLUDE_TAGS", &c.ExcludeTags)

	for _, e := range []error{
		boolean("DRY_RUN", &c.DryRun),
		boolean("DELETE_UNTAGGED", &c.DeleteUntagged),
		boolean("DELETE_GHOST_IMAGES", &c.DeleteGhost),
		boolean("DELETE_PARTIAL_IMAGES", &c.DeletePartial),
		boolean("DELETE_ORPHANED_IMAGES", &c.DeleteOrphaned),
		boolean("VALIDATE", &c.Validate),
		integer("KEEP_N_TAGGED", &c.KeepNTagged),
		integer("KEEP_N_UNTAGGED", &c.KeepNUntagged),
		integer("RETRIES", &c.Retries),
		integer("THROTTLE", &c.Throttle),
		integer("TIMEOUT", &c.Timeout),
	} {
		if e != nil {
			return e
		}
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	if v, ok := os.LookupEnv("REGCLEAN_" + key); ok {
		return v, true
	}
	return os.LookupEnv("INPUT_" + key)
}

// splitList parses comma- or newline-separated values.
func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' })
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// CheckValid validates the whole policy and resolves derived values.
func (c *Config) CheckValid() error {
	switch registry.Backend(c.Backend) {
	case registry.BackendAuto, registry.BackendGitHub, registry.BackendGitea,
		registry.BackendDockerHub, registry.BackendOCI, registry.BackendDaemon:
	default:
		return &ValidationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", c.Backend)}
	}

	if c.KeepNTagged < 0 {
		return &ValidationError{Field: "keep-n-tagged", Reason: "must not be negative"}
	}
	if c.KeepNUntagged < 0 {
		return &ValidationError{Field: "keep-n-untagged", Reason: "must not be negative"}
	}
	if c.Retries < 0 {
		return &ValidationError{Field: "retries", Reason: "must not be negative"}
	}
	if c.Throttle < 0 {
		return &ValidationError{Field: "throttle", Reason: "must not be negative"}
	}
	if c.Timeout <= 0 {
		return &ValidationError{Field: "timeout", Reason: "must be positive"}
	}

	if c.OlderThan != "" {
		parsed, err := duration.Parse(c.OlderThan)
		if err != nil {
			return &ValidationError{Field: "older-than", Reason: err.Error()}
		}
		c.olderThan = parsed
	}

	if _, err := pattern.CompileAll(c.DeleteTags); err != nil {
		return &ValidationError{Field: "delete-tags", Reason: err.Error()}
	}
	if _, err := pattern.CompileAll(c.ExcludeTags); err != nil {
		return &ValidationError{Field: "exclude-tags", Reason: err.Error()}
	}
	return nil
}

// OlderThanDuration returns the parsed age cutoff, zero when unset.
// Only meaningful after CheckValid.
func (c *Config) OlderThanDuration() time.Duration {
	return c.olderThan
}

// FilterPolicy maps the config onto the filter pipeline's policy.
func (c *Config) FilterPolicy() filter.Policy {
	return filter.Policy{
		ExcludeTags:    c.ExcludeTags,
		DeleteTags:     c.DeleteTags,
		OlderThan:      c.olderThan,
		KeepNTagged:    c.KeepNTagged,
		KeepNUntagged:  c.KeepNUntagged,
		DeleteUntagged: c.DeleteUntagged,
		DeleteGhost:    c.DeleteGhost,
		DeletePartial:  c.DeletePartial,
		DeleteOrphaned: c.DeleteOrphaned,
	}
}

// TransportConfig maps the connection settings onto the transport.
func (c *Config) TransportConfig() registry.TransportConfig {
	return registry.TransportConfig{
		Retries:   c.Retries,
		Throttle:  time.Duration(c.Throttle) * time.Millisecond,
		Timeout:   time.Duration(c.Timeout) * time.Second,
		UserAgent: "regclean",
	}
}

// Credentials maps the auth settings onto the adapter credentials.
func (c *Config) Credentials() registry.Credentials {
	return registry.Credentials{
		Owner:    c.Owner,
		Username: c.Username,
		Password: c.Password,
		Token:    c.Token,
	}
}
