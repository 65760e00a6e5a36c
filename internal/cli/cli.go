// Package cli holds the start-up plumbing shared by the auditor binaries:
// common flags, environment overrides, configuration loading, logging and the
// single-instance lock.
package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/akshshar/xr-auditor/internal/config"
	"github.com/akshshar/xr-auditor/internal/logging"
	"github.com/akshshar/xr-auditor/internal/xsd"
	"github.com/akshshar/xr-auditor/userfiles"
)

// Environment variables that supply flag defaults.
const (
	EnvConfig = "AUDITOR_CONFIG"
	EnvSpec   = "AUDITOR_SPEC"
	EnvXSD    = "AUDITOR_XSD"
	EnvDebug  = "AUDITOR_DEBUG"
	EnvFile   = "AUDITOR_ENV_FILE"
)

// DefaultEnvFile is read, when present, before flags are parsed.
const DefaultEnvFile = "/misc/app_host/auditor/auditor.env"

// EnvFilePath returns the env file named by AUDITOR_ENV_FILE, or the default.
func EnvFilePath() string {
	return getenv(EnvFile, DefaultEnvFile)
}

// ErrLocked is returned when another instance holds the lock.
var ErrLocked = errors.New("another instance is running")

// Common are the flags every binary accepts.
type Common struct {
	ConfigPath string
	SpecPath   string
	XSDPath    string
	Debug      bool
	Stderr     bool
}

// LoadEnv reads path into the environment without overriding variables that
// are already set. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// AddFlags registers the common flags, taking defaults from the environment.
func (c *Common) AddFlags(fs *pflag.FlagSet) {
	debug, _ := strconv.ParseBool(getenv(EnvDebug, "false"))
	fs.StringVar(&c.ConfigPath, "config", getenv(EnvConfig, ""), "auditor configuration file (default: built in)")
	fs.StringVar(&c.SpecPath, "spec", getenv(EnvSpec, ""), "audit item specification file (default: built in)")
	fs.StringVar(&c.XSDPath, "xsd", getenv(EnvXSD, ""), "compliance schema file (default: built in)")
	fs.BoolVarP(&c.Debug, "debug", "d", debug, "enable verbose logging")
	fs.BoolVar(&c.Stderr, "stderr", false, "also log to stderr")
}

// Config loads the auditor configuration.
func (c *Common) Config() (*config.Config, error) {
	if c.ConfigPath == "" {
		return config.Parse(userfiles.AuditorConfig)
	}
	return config.Load(c.ConfigPath)
}

// Spec loads the audit item specification.
func (c *Common) Spec() (*config.Spec, error) {
	if c.SpecPath == "" {
		return config.ParseSpec(userfiles.ComplianceSpec)
	}
	return config.LoadSpec(c.SpecPath)
}

// Schema loads the compliance schema.
func (c *Common) Schema() (*xsd.Schema, error) {
	if c.XSDPath == "" {
		return xsd.Parse(userfiles.ComplianceXSD)
	}
	return xsd.Load(c.XSDPath)
}

// StartLogging installs the log sinks configured in cfg for program name.
func (c *Common) StartLogging(name string, cfg *config.Config) func() {
	release, err := logging.Setup(logging.Options{
		Name:         name,
		Dir:          cfg.Log.Dir,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
		SyslogServer: cfg.Syslog.Server,
		SyslogPort:   cfg.Syslog.Port,
		Stderr:       c.Stderr,
	})
	if err != nil {
		log.Printf("[WARN] Logging to stderr only: %v", err)
		return func() {}
	}
	return release
}

// Lock takes an exclusive, non-blocking lock on <dir>/.<name>.lock.
func Lock(dir, name string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "."+name+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", lock.Path(), ErrLocked)
	}
	return lock, nil
}

// Elapsed logs how long a binary ran.
func Elapsed(name string, start time.Time) {
	log.Printf("[INFO] %s finished in %v", name, time.Since(start).Round(time.Millisecond))
}
