// Package config loads SentinelFS's daemon configuration the way the
// teacher's CLI loads its own: a YAML file discovered under the user's
// config directory, overridable by SENTINELFS_-prefixed environment
// variables, all through spf13/viper. No command-line flag overrides a
// setting; the --config flag only names the file to read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"sentinelfs/internal/domain/conflict"
	"sentinelfs/internal/domain/governor"
	"sentinelfs/internal/domain/remesh"
	"sentinelfs/internal/domain/scorer"
	"sentinelfs/internal/domain/tlspin"
)

// Config is the daemon's full runtime configuration, assembled from
// defaults, an optional YAML file, and environment overrides.
type Config struct {
	WatchedDirs []string `mapstructure:"watched_dirs"`
	DataDir     string   `mapstructure:"data_dir"`
	ListenPort  int      `mapstructure:"listen_port"`

	ChunkSize int `mapstructure:"chunk_size"`

	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	Rendezvous     string   `mapstructure:"rendezvous"`

	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	Bandwidth BandwidthConfig `mapstructure:"bandwidth"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Remesh    RemeshConfig    `mapstructure:"remesh"`
	Pin       PinConfig       `mapstructure:"pin"`
	Conflict  ConflictConfig  `mapstructure:"conflict"`

	VersionRetention int `mapstructure:"version_retention"`

	IPCSocketPath string `mapstructure:"ipc_socket_path"`
	LogLevel      string `mapstructure:"log_level"`
}

// BandwidthConfig mirrors governor.Config in config-file shape.
type BandwidthConfig struct {
	UploadBytesPerSec   int `mapstructure:"upload_bytes_per_sec"`
	UploadBurst         int `mapstructure:"upload_burst"`
	DownloadBytesPerSec int `mapstructure:"download_bytes_per_sec"`
	DownloadBurst       int `mapstructure:"download_burst"`
}

func (b BandwidthConfig) toGovernor() governor.Config {
	return governor.Config{
		UploadBytesPerSec:   b.UploadBytesPerSec,
		UploadBurst:         b.UploadBurst,
		DownloadBytesPerSec: b.DownloadBytesPerSec,
		DownloadBurst:       b.DownloadBurst,
	}
}

// ScoringConfig mirrors scorer.Config in config-file shape.
type ScoringConfig struct {
	RTTWeight       float64       `mapstructure:"rtt_weight"`
	JitterWeight    float64       `mapstructure:"jitter_weight"`
	LossWeight      float64       `mapstructure:"loss_weight"`
	StableThreshold time.Duration `mapstructure:"stable_threshold"`
}

func (s ScoringConfig) toScorer() scorer.Config {
	cfg := scorer.DefaultConfig()
	if s.RTTWeight != 0 || s.JitterWeight != 0 || s.LossWeight != 0 {
		cfg.Weights = scorer.Weights{RTT: s.RTTWeight, Jitter: s.JitterWeight, Loss: s.LossWeight}
	}
	if s.StableThreshold > 0 {
		cfg.StableThreshold = s.StableThreshold
	}
	return cfg
}

// RemeshConfig mirrors remesh.Config in config-file shape.
type RemeshConfig struct {
	Period             time.Duration `mapstructure:"period"`
	MinThreshold       float64       `mapstructure:"min_threshold"`
	MinEvaluationCount int           `mapstructure:"min_evaluation_count"`
	MinPeers           int           `mapstructure:"min_peers"`
	HysteresisMargin   float64       `mapstructure:"hysteresis_margin"`
}

func (r RemeshConfig) toRemesh(scoring scorer.Config) remesh.Config {
	cfg := remesh.DefaultConfig()
	cfg.Scoring = scoring
	if r.Period > 0 {
		cfg.Period = r.Period
	}
	if r.MinThreshold != 0 {
		cfg.MinThreshold = r.MinThreshold
	}
	if r.MinEvaluationCount != 0 {
		cfg.MinEvaluationCount = r.MinEvaluationCount
	}
	if r.MinPeers != 0 {
		cfg.MinPeers = r.MinPeers
	}
	if r.HysteresisMargin != 0 {
		cfg.HysteresisMargin = r.HysteresisMargin
	}
	return cfg
}

// ConflictConfig controls whether FILE_META exchanges that reveal a
// divergent hash against a locally-existing file are surfaced as
// conflict records for operator review, per §4.6.
type ConflictConfig struct {
	Surface       bool          `mapstructure:"surface"`
	SkewThreshold time.Duration `mapstructure:"skew_threshold"`
}

// PinConfig selects the TLS pin verification policy by name.
type PinConfig struct {
	Policy string `mapstructure:"policy"`
}

func (p PinConfig) toPolicy() tlspin.Policy {
	switch p.Policy {
	case "strict":
		return tlspin.PolicyStrict
	case "spki_only":
		return tlspin.PolicySPKIOnly
	case "tofu":
		return tlspin.PolicyTOFU
	default:
		return tlspin.PolicyNone
	}
}

// GovernorConfig returns the bandwidth governor configuration derived from c.
func (c Config) GovernorConfig() governor.Config { return c.Bandwidth.toGovernor() }

// ScorerConfig returns the peer scoring configuration derived from c.
func (c Config) ScorerConfig() scorer.Config { return c.Scoring.toScorer() }

// RemeshConfig returns the auto-remesh loop configuration derived from c.
func (c Config) RemeshConfig() remesh.Config { return c.Remesh.toRemesh(c.ScorerConfig()) }

// PinPolicy returns the configured TLS pin verification policy.
func (c Config) PinPolicy() tlspin.Policy { return c.Pin.toPolicy() }

// ConflictSkewThreshold returns the configured mtime-skew tie-break
// window, falling back to conflict.DefaultSkewThreshold when unset.
func (c Config) ConflictSkewThreshold() time.Duration {
	if c.Conflict.SkewThreshold > 0 {
		return c.Conflict.SkewThreshold
	}
	return conflict.DefaultSkewThreshold
}

const envPrefix = "SENTINELFS"

// Load reads configuration from, in ascending priority: built-in
// defaults, a YAML file (explicit path if given, otherwise the first of
// $XDG_CONFIG_HOME/sentinelfs/config.yaml, $HOME/.sentinelfs/config.yaml
// or ./config.yaml that exists), and SENTINELFS_-prefixed environment
// variables.
func Load(explicitPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.CertFile == "" {
		cfg.CertFile = filepath.Join(cfg.DataDir, "tls", "cert.pem")
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.DataDir, "tls", "key.pem")
	}

	return cfg, nil
}

// searchPaths returns, in order, the directories Load looks for
// config.yaml in: $XDG_CONFIG_HOME/sentinelfs first, then $HOME/.sentinelfs,
// then the current directory.
func searchPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "sentinelfs"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".sentinelfs"))
	}
	dirs = append(dirs, ".")
	return dirs
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sentinelfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sentinelfs"
	}
	return filepath.Join(home, ".sentinelfs")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 0)
	v.SetDefault("chunk_size", 4096)
	v.SetDefault("rendezvous", "sentinelfs")
	v.SetDefault("version_retention", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("ipc_socket_path", defaultSocketPath())

	v.SetDefault("bandwidth.upload_bytes_per_sec", 0)
	v.SetDefault("bandwidth.download_bytes_per_sec", 0)

	v.SetDefault("scoring.rtt_weight", 0.4)
	v.SetDefault("scoring.jitter_weight", 0.3)
	v.SetDefault("scoring.loss_weight", 0.3)
	v.SetDefault("scoring.stable_threshold", "10m")

	v.SetDefault("remesh.period", "30s")
	v.SetDefault("remesh.min_threshold", 40)
	v.SetDefault("remesh.min_evaluation_count", 3)
	v.SetDefault("remesh.min_peers", 1)
	v.SetDefault("remesh.hysteresis_margin", 10)

	v.SetDefault("pin.policy", "strict")

	v.SetDefault("conflict.surface", true)
	v.SetDefault("conflict.skew_threshold", "2s")
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sentinelfs.sock")
	}
	return filepath.Join(os.TempDir(), "sentinelfs.sock")
}
