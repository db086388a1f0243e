// Package config loads the veritaslog application configuration.
//
// Configuration is a single YAML file named by the VERITASLOG_CONFIG
// environment variable or the --config flag. Unknown keys are rejected so a
// misspelled setting fails loudly instead of silently taking its default.
//
//	namespace: veritaslog
//	threshold: 2
//	canonical_mode: permissive
//	upload:
//	  max_attempts: 3
//	  base_delay: 2s
//	storage:
//	  backends:
//	    - name: localfs
//	      config: {localfs-dir: /var/lib/veritaslog/blobs}
//	ledger:
//	  driver: file
//	  path: /var/lib/veritaslog/ledger.json
//	keyserver_master_seed_hex: 0x...
//	keyservers:
//	  - id: ks-1
//	  - id: ks-2
//	  - id: ks-3
//	    target: keys.example:7444
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/veritaslog/compliance"
	"xdao.co/veritaslog/gateway"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/session"
	"xdao.co/veritaslog/storage/blobconfig"
	"xdao.co/veritaslog/uploader"
)

// EnvVar names the environment variable that points at the config file.
const EnvVar = "VERITASLOG_CONFIG"

// Ledger drivers.
const (
	LedgerMemory   = "memory"
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
)

type Config struct {
	// Namespace scopes identities, session credentials and policy proofs.
	Namespace string `yaml:"namespace"`

	// Threshold is the number of key servers that must release a share.
	// Values below 1 are raised to 1.
	Threshold int `yaml:"threshold"`

	// MaxArtifactBytes caps the sealed artifact. Default 10 MiB.
	MaxArtifactBytes int `yaml:"max_artifact_bytes"`

	// CanonicalMode is "permissive" (default) or "strict".
	CanonicalMode string `yaml:"canonical_mode"`

	Upload  UploadConfig  `yaml:"upload"`
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`

	// KeyServers lists the committee in slot order.
	KeyServers []KeyServerConfig `yaml:"keyservers"`

	// KeyServerMasterSeedHex derives the keys of in-process key servers that
	// carry neither a target nor their own seed.
	KeyServerMasterSeedHex string `yaml:"keyserver_master_seed_hex"`

	Session SessionConfig `yaml:"session"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

type UploadConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	// Timeout bounds each attempt.
	Timeout   time.Duration `yaml:"timeout"`
	Epochs    int           `yaml:"epochs"`
	Deletable *bool         `yaml:"deletable"`
	// Signer is passed to backends that bill a payer account.
	Signer string `yaml:"signer"`
}

// StorageConfig opens blob backends. Config, when set, names a JSONC
// blobconfig file and takes precedence over the inline fields.
type StorageConfig struct {
	Config      string                     `yaml:"config"`
	Backends    []blobconfig.BackendConfig `yaml:"backends"`
	WritePolicy string                     `yaml:"write_policy"`
}

type LedgerConfig struct {
	// Driver is memory, file or postgres.
	Driver string `yaml:"driver"`
	// Path is the JSON file for the file driver.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`
}

// KeyServerConfig is one committee member. A member with Target is reached
// over gRPC; otherwise it runs in process with SeedHex, or with a seed
// derived from the master seed.
type KeyServerConfig struct {
	ID      string        `yaml:"id"`
	Target  string        `yaml:"target"`
	SeedHex string        `yaml:"seed_hex"`
	Timeout time.Duration `yaml:"timeout"`
}

// Local reports whether the member runs in process.
func (k KeyServerConfig) Local() bool { return k.Target == "" }

type SessionConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	SignTimeout time.Duration `yaml:"sign_timeout"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	deletable := true
	return &Config{
		Namespace:        gateway.DefaultNamespace,
		Threshold:        gateway.DefaultThreshold,
		MaxArtifactBytes: gateway.DefaultMaxArtifactBytes,
		CanonicalMode:    compliance.Permissive.String(),
		Upload: UploadConfig{
			MaxAttempts: uploader.DefaultMaxAttempts,
			BaseDelay:   uploader.DefaultBaseDelay,
			Timeout:     uploader.DefaultTimeout,
			Epochs:      uploader.DefaultEpochs,
			Deletable:   &deletable,
		},
		Ledger: LedgerConfig{Driver: LedgerMemory},
		KeyServers: []KeyServerConfig{
			{ID: "ks-1"}, {ID: "ks-2"}, {ID: "ks-3"},
		},
		Session: SessionConfig{
			TTL:         session.DefaultTTL,
			SignTimeout: session.DefaultSignTimeout,
		},
		HTTP: HTTPConfig{Listen: "127.0.0.1:8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path, or the file named by VERITASLOG_CONFIG when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file (set %s or pass --config)", EnvVar)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("namespace is required")
	}
	if c.MaxArtifactBytes <= 0 {
		return fmt.Errorf("max_artifact_bytes must be positive, got %d", c.MaxArtifactBytes)
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1, got %d", c.Upload.MaxAttempts)
	}
	if c.Upload.BaseDelay < 0 || c.Upload.Timeout < 0 {
		return errors.New("upload durations must not be negative")
	}
	if c.Upload.Epochs < 1 {
		return fmt.Errorf("upload.epochs must be at least 1, got %d", c.Upload.Epochs)
	}

	if c.Storage.Config == "" && len(c.Storage.Backends) > 0 {
		if err := c.Storage.Inline().Validate(); err != nil {
			return err
		}
	}

	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerFile:
		if c.Ledger.Path == "" {
			return errors.New("ledger.path is required for the file driver")
		}
	case LedgerPostgres:
		if c.Ledger.DSN == "" {
			return errors.New("ledger.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid ledger.driver %q (want memory|file|postgres)", c.Ledger.Driver)
	}

	if len(c.KeyServers) == 0 {
		return errors.New("at least one key server is required")
	}
	if c.Threshold > len(c.KeyServers) {
		return fmt.Errorf("threshold %d exceeds %d key servers", c.Threshold, len(c.KeyServers))
	}
	seen := make(map[string]struct{}, len(c.KeyServers))
	needMaster := false
	for _, ks := range c.KeyServers {
		if ks.ID == "" {
			return errors.New("key server id is required")
		}
		if _, dup := seen[ks.ID]; dup {
			return fmt.Errorf("duplicate key server id %q", ks.ID)
		}
		seen[ks.ID] = struct{}{}
		if ks.Target != "" && ks.SeedHex != "" {
			return fmt.Errorf("key server %q: target and seed_hex are exclusive", ks.ID)
		}
		if ks.SeedHex != "" {
			if _, err := keys.ParseSeedHex(ks.SeedHex); err != nil {
				return fmt.Errorf("key server %q: %w", ks.ID, err)
			}
		}
		if ks.Local() && ks.SeedHex == "" {
			needMaster = true
		}
	}
	if needMaster {
		if c.KeyServerMasterSeedHex == "" {
			return errors.New("keyserver_master_seed_hex is required for in-process key servers without seed_hex")
		}
		if _, err := keys.ParseSeedHex(c.KeyServerMasterSeedHex); err != nil {
			return fmt.Errorf("keyserver_master_seed_hex: %w", err)
		}
	}

	if c.Session.TTL <= 0 || c.Session.SignTimeout <= 0 {
		return errors.New("session.ttl and session.sign_timeout must be positive")
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (want text|json)", c.Log.Format)
	}
	return nil
}

// Mode parses CanonicalMode.
func (c *Config) Mode() (compliance.ComplianceMode, error) {
	return compliance.ParseMode(c.CanonicalMode)
}

// RetryPolicy returns the upload retry policy.
func (c *Config) RetryPolicy() uploader.RetryPolicy {
	return uploader.RetryPolicy{MaxAttempts: c.Upload.MaxAttempts, BaseDelay: c.Upload.BaseDelay}
}

// Inline returns the storage section as a blobconfig.Config.
func (s StorageConfig) Inline() blobconfig.Config {
	return blobconfig.Config{WritePolicy: s.WritePolicy, Backends: s.Backends}
}

// Blob resolves the blob backend configuration. With no backends configured
// the result is a single in-memory store.
func (s StorageConfig) Blob() (blobconfig.Config, error) {
	if s.Config != "" {
		return blobconfig.LoadFile(s.Config)
	}
	if len(s.Backends) == 0 {
		return blobconfig.Config{Backends: []blobconfig.BackendConfig{{Name: "memory"}}}, nil
	}
	cfg := s.Inline()
	return cfg, cfg.Validate()
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", l.Level)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log.format %q", l.Format)
	}
}
