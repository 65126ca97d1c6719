package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DomainConfig describes one vault domain and the filesystem paths that
// belong to it. Paths are glob patterns ("~/Code/myapp/*" style) used to
// associate sessions and working directories with the domain.
type DomainConfig struct {
	Name  string   `json:"name"`
	Paths []string `json:"paths,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// VaultPath is the root directory of the vault tree.
	VaultPath string `json:"vault_path"`

	// SessionSources are directories scanned for append-only session logs
	// (one project directory per subdir, *.jsonl files inside).
	SessionSources []string `json:"session_sources,omitempty"`

	// ExcludePatterns are glob patterns applied before indexing. Matching
	// paths are never indexed (they are not filtered at query time).
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// Domains maps domain names to filesystem path globs.
	Domains []DomainConfig `json:"domains,omitempty"`

	// AutoCreateProjects makes write operations create missing project
	// directories. When false, writes to an unknown project fail NOT_FOUND.
	AutoCreateProjects bool `json:"auto_create_projects"`

	// SummaryIntervalMinutes is the cadence of the background summarizer.
	// 0 disables the periodic runner.
	SummaryIntervalMinutes int `json:"summary_interval_minutes,omitempty"`

	// SummaryCommand is the external summarizer invocation, argv style.
	// The conversation text is piped to stdin.
	SummaryCommand []string `json:"summary_command,omitempty"`

	// DBMaxOpenConns limits open database connections. If set to 1, all
	// database access is serialized. 0 means the sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle database connections. 0 means default.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		VaultPath:              filepath.Join(home, "vault"),
		ExcludePatterns:        []string{".*", "**/.obsidian/**", "**/node_modules/**"},
		AutoCreateProjects:     true,
		SummaryIntervalMinutes: 60,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.attic.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge overlays non-zero fields of over onto base and returns a new Config.
// Slices replace rather than concatenate, so a config file can narrow the
// default exclusions.
func Merge(base, over *Config) *Config {
	out := *base
	if over == nil {
		return &out
	}
	if over.VaultPath != "" {
		out.VaultPath = over.VaultPath
	}
	if over.SessionSources != nil {
		out.SessionSources = over.SessionSources
	}
	if over.ExcludePatterns != nil {
		out.ExcludePatterns = over.ExcludePatterns
	}
	if over.Domains != nil {
		out.Domains = over.Domains
	}
	if over.SummaryIntervalMinutes != 0 {
		out.SummaryIntervalMinutes = over.SummaryIntervalMinutes
	}
	if over.SummaryCommand != nil {
		out.SummaryCommand = over.SummaryCommand
	}
	if over.DBMaxOpenConns != 0 {
		out.DBMaxOpenConns = over.DBMaxOpenConns
	}
	if over.DBMaxIdleConns != 0 {
		out.DBMaxIdleConns = over.DBMaxIdleConns
	}
	return &out
}

// CompileExcludes compiles the configured exclusion patterns. Invalid
// patterns are skipped; the index must keep working with a bad config line.
func (c *Config) CompileExcludes() []glob.Glob {
	globs := make([]glob.Glob, 0, len(c.ExcludePatterns))
	for _, p := range c.ExcludePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

// DomainForPath resolves which configured domain a filesystem path belongs
// to by glob match, falling back to a prefix check against the glob's base
// directory. Returns "" when no domain matches.
func (c *Config) DomainForPath(path string) string {
	for _, d := range c.Domains {
		for _, pat := range d.Paths {
			expanded := ExpandHome(pat)
			if g, err := glob.Compile(expanded, '/'); err == nil && g.Match(path) {
				return d.Name
			}
			base := expanded
			if i := strings.IndexByte(base, '*'); i >= 0 {
				base = base[:i]
			}
			base = trimTrailingSlash(base)
			if base != "" && hasPathPrefix(path, base) {
				return d.Name
			}
		}
	}
	return ""
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if len(p) >= 2 && p[0] == '~' && p[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

func trimTrailingSlash(s string) string {
	for len(s) > 1 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func hasPathPrefix(path, base string) bool {
	if path == base {
		return true
	}
	return len(path) > len(base) && path[:len(base)] == base && path[len(base)] == '/'
}

// Save writes the configuration to baseDir/config.json.
func Save(baseDir string, cfg *Config) error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(baseDir, "config.json"), append(data, '\n'), 0600)
}
