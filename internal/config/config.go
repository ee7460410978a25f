// Package config loads and validates the backup engine's configuration:
// source/destination paths, archive/medium sizing, codec/cipher choice,
// and concurrency knobs. Files are JSONC (JSON with comments and trailing
// commas), loaded with the same defaults -> global -> project -> CLI
// precedence the teacher uses for its own config.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrSourceEmpty        = errors.New("source path cannot be empty")
	ErrDestinationEmpty   = errors.New("destination path cannot be empty")
	ErrArchiveBudgetZero  = errors.New("archive budget must be positive")
)

// BackupKind mirrors model.BackupKind as a config-layer string to avoid
// an import cycle; internal/cli maps it onto model.BackupKind.
type BackupKind string

const (
	KindAuto        BackupKind = "auto" // FULL if the catalog is empty, INCREMENTAL otherwise
	KindFull        BackupKind = "FULL"
	KindIncremental BackupKind = "INCREMENTAL"
)

// Codec selects the compression implementation (§4.5).
type Codec string

const (
	CodecBZip2 Codec = "bz2"
	CodecGzip  Codec = "gz"
	CodecXZ    Codec = "xz"
)

// Cipher selects the encryption implementation (§4.6).
type Cipher string

const (
	CipherNone   Cipher = ""
	CipherGPG    Cipher = "gpg-symmetric"
	CipherAESCBC Cipher = "aes-cbc-file"
)

// Reporter names a progress-display mode (§9 Design Notes). It is loaded
// and merged like the other settings; no component acts on it.
type Reporter string

const (
	ReporterSilent Reporter = "silent"
	ReporterSimple Reporter = "simple"
	ReporterRich   Reporter = "rich"
)

// Concurrency controls Pipeline's worker pool (§5, §6). Enabled is a
// pointer so an absent config field is distinguishable from an explicit
// false during the defaults -> global -> project -> CLI merge.
type Concurrency struct {
	Enabled            *bool `json:"enabled,omitempty"`
	Workers            int   `json:"workers,omitempty"`
	BackpressureBudget int   `json:"backpressure_budget,omitempty"`
}

// IsEnabled reports whether the worker pool should run in parallel mode.
func (c Concurrency) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Names configures the medium-index and catalog-copy file names (§6).
type Names struct {
	MediumIndex string `json:"medium_index"`
	CatalogCopy string `json:"catalog_copy"`
}

// Config is the fully resolved configuration for one invocation.
type Config struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Catalog     string      `json:"catalog,omitempty"` // relative to Destination unless absolute
	Kind        BackupKind  `json:"kind,omitempty"`
	ArchiveSize int64       `json:"archive_size,omitempty"`
	MediumCap   int64       `json:"medium_capacity,omitempty"` // -1 = unlimited
	MediumSlack int64       `json:"medium_slack,omitempty"`
	Passphrase  string      `json:"passphrase,omitempty"`
	Concurrency Concurrency `json:"concurrency,omitempty"`
	Codec       Codec       `json:"codec,omitempty"`
	Cipher      Cipher      `json:"cipher,omitempty"`
	RestoreFilter string    `json:"restore_filter,omitempty"`
	RestoreTo   string      `json:"restore_to,omitempty"` // restore output dir; defaults to Source
	Reporter    Reporter    `json:"reporter,omitempty"`
	HookCommand string      `json:"hook_command,omitempty"`
	Names       Names       `json:"names,omitempty"`

	// Sources tracks which files contributed, for diagnostics.
	Sources ConfigSources `json:"-"`
}

// ConfigSources records which config files were loaded.
type ConfigSources struct {
	Global  string
	Project string
}

const (
	DefaultArchiveSize = 1 << 30          // 1 GiB
	DefaultMediumCap   = 44 * (1 << 30)   // 44 GiB
	DefaultMediumSlack = 100 * (1 << 20)  // 100 MiB
	DefaultWorkers     = 0                // 0 => runtime.NumCPU()
	DefaultBudget      = 5
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".butcherbak.json"

// DefaultConfig returns the baseline configuration before any file or
// flag overrides are applied.
func DefaultConfig() Config {
	return Config{
		Kind:        KindAuto,
		ArchiveSize: DefaultArchiveSize,
		MediumCap:   DefaultMediumCap,
		MediumSlack: DefaultMediumSlack,
		Concurrency: Concurrency{Workers: DefaultWorkers, BackpressureBudget: DefaultBudget},
		Codec:       CodecBZip2,
		Cipher:      CipherNone,
		RestoreFilter: ".*",
		Reporter:    ReporterSimple,
		Names:       Names{MediumIndex: "disc_id.yml", CatalogCopy: "index.sqlite"},
	}
}

// LoadConfigInput holds the inputs for Load.
type LoadConfigInput struct {
	WorkDirOverride string
	ConfigPath      string
	Env             map[string]string
	Overrides       Config // CLI flag overrides; zero fields are ignored
}

// Load loads configuration with precedence (highest wins): defaults,
// global user config, project config (or an explicit --config path),
// then CLI overrides. All paths in the returned Config are resolved to
// absolute paths against the effective working directory.
func Load(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("load config: cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobalConfig(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, input.Overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.Source = resolvePath(workDir, cfg.Source)
	cfg.Destination = resolvePath(workDir, cfg.Destination)
	cfg.RestoreTo = resolvePath(workDir, cfg.RestoreTo)

	return cfg, nil
}

func resolvePath(workDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(workDir, p)
}

func getGlobalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "butcherbak", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "butcherbak", "config.json")
	}

	return ""
}

func loadGlobalConfig(env map[string]string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		file      string
		mustExist bool
	)

	if configPath != "" {
		file = configPath
		if !filepath.IsAbs(file) {
			file = filepath.Join(workDir, file)
		}

		mustExist = true

		if _, err := os.Stat(file); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		file = filepath.Join(workDir, ConfigFileName)
	}

	cfg, loaded, err := loadConfigFile(file, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, file, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// ApplyOverrides layers overlay's non-zero fields on top of base,
// for CLI flag overrides applied after Load (spec §6).
func ApplyOverrides(base, overlay Config) Config { return merge(base, overlay) }

// merge layers overlay's non-zero fields on top of base.
func merge(base, overlay Config) Config {
	if overlay.Source != "" {
		base.Source = overlay.Source
	}

	if overlay.Destination != "" {
		base.Destination = overlay.Destination
	}

	if overlay.Catalog != "" {
		base.Catalog = overlay.Catalog
	}

	if overlay.Kind != "" {
		base.Kind = overlay.Kind
	}

	if overlay.ArchiveSize != 0 {
		base.ArchiveSize = overlay.ArchiveSize
	}

	if overlay.MediumCap != 0 {
		base.MediumCap = overlay.MediumCap
	}

	if overlay.MediumSlack != 0 {
		base.MediumSlack = overlay.MediumSlack
	}

	if overlay.Passphrase != "" {
		base.Passphrase = overlay.Passphrase
	}

	if overlay.Codec != "" {
		base.Codec = overlay.Codec
	}

	if overlay.Cipher != "" {
		base.Cipher = overlay.Cipher
	}

	if overlay.RestoreFilter != "" {
		base.RestoreFilter = overlay.RestoreFilter
	}

	if overlay.RestoreTo != "" {
		base.RestoreTo = overlay.RestoreTo
	}

	if overlay.Reporter != "" {
		base.Reporter = overlay.Reporter
	}

	if overlay.HookCommand != "" {
		base.HookCommand = overlay.HookCommand
	}

	if overlay.Names.MediumIndex != "" {
		base.Names.MediumIndex = overlay.Names.MediumIndex
	}

	if overlay.Names.CatalogCopy != "" {
		base.Names.CatalogCopy = overlay.Names.CatalogCopy
	}

	if overlay.Concurrency.Workers != 0 {
		base.Concurrency.Workers = overlay.Concurrency.Workers
	}

	if overlay.Concurrency.BackpressureBudget != 0 {
		base.Concurrency.BackpressureBudget = overlay.Concurrency.BackpressureBudget
	}

	if overlay.Concurrency.Enabled != nil {
		base.Concurrency.Enabled = overlay.Concurrency.Enabled
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Source == "" {
		return ErrSourceEmpty
	}

	if cfg.Destination == "" {
		return ErrDestinationEmpty
	}

	if cfg.ArchiveSize <= 0 {
		return ErrArchiveBudgetZero
	}

	return nil
}
