// Package config loads the typed configuration for every neos binary
// (DHT node, AMPC worker/coordinator, indexer, admin CLI) from YAML/TOML
// files and environment overrides, via the viper-based Load, LoadDht,
// LoadIndexer and LoadAdmin.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/NEOS-AI/neos/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// GossipConfig configures the cluster membership pubsub topic a member
// joins on top of its libp2p host.
type GossipConfig struct {
	Addr      string   `mapstructure:"addr" json:"addr"`
	SeedNodes []string `mapstructure:"seed_nodes" json:"seed_nodes"`
}

// DhtConfig configures one DHT node process.
type DhtConfig struct {
	NodeID   uint64        `mapstructure:"node_id" json:"node_id"`
	Host     string        `mapstructure:"host" json:"host"`
	Shard    uint64        `mapstructure:"shard" json:"shard"`
	SeedNode string        `mapstructure:"seed_node" json:"seed_node"`
	Gossip   *GossipConfig `mapstructure:"gossip" json:"gossip"`
}

// WarcSourceKind names where the indexer reads WARC files from.
type WarcSourceKind string

const (
	WarcSourceHTTP  WarcSourceKind = "Http"
	WarcSourceLocal WarcSourceKind = "Local"
	WarcSourceS3    WarcSourceKind = "S3"
)

// S3Config names the bucket/folder an S3-compatible WarcSource reads
// from, plus the endpoint and credentials to reach it.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" json:"bucket"`
	Folder    string `mapstructure:"folder" json:"folder"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
	Secure    bool   `mapstructure:"secure" json:"secure"`
}

// HTTPSourceConfig names the base URL an HTTP-backed WarcSource reads from.
type HTTPSourceConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// LocalSourceConfig names the folder a Local-backed WarcSource reads from.
type LocalSourceConfig struct {
	Folder string `mapstructure:"folder" json:"folder"`
}

// WarcSource is the tagged union of where to read WARC files from.
type WarcSource struct {
	Kind  WarcSourceKind     `mapstructure:"kind" json:"kind"`
	HTTP  *HTTPSourceConfig  `mapstructure:"http" json:"http,omitempty"`
	Local *LocalSourceConfig `mapstructure:"local" json:"local,omitempty"`
	S3    *S3Config          `mapstructure:"s3" json:"s3,omitempty"`
}

// IndexerConfig is the indexing pipeline's configuration surface.
// Only WarcSource and OutputPath are mandatory; everything else has a zero
// value that disables the corresponding optional stage.
type IndexerConfig struct {
	WarcSource   WarcSource `mapstructure:"warc_source" json:"warc_source"`
	OutputPath   string     `mapstructure:"output_path" json:"output_path"`

	SkipWarcFiles  int `mapstructure:"skip_warc_files" json:"skip_warc_files"`
	LimitWarcFiles int `mapstructure:"limit_warc_files" json:"limit_warc_files"`

	BatchSize                  int `mapstructure:"batch_size" json:"batch_size"`
	AutocommitAfterNumInserts  int `mapstructure:"autocommit_after_num_inserts" json:"autocommit_after_num_inserts"`

	HostCentralityThreshold float64 `mapstructure:"host_centrality_threshold" json:"host_centrality_threshold"`
	MinimumCleanWords       int     `mapstructure:"minimum_clean_words" json:"minimum_clean_words"`

	HostCentralityStorePath string `mapstructure:"host_centrality_store_path" json:"host_centrality_store_path,omitempty"`
	PageCentralityStorePath string `mapstructure:"page_centrality_store_path" json:"page_centrality_store_path,omitempty"`
	PageWebgraphPath        string `mapstructure:"page_webgraph_path" json:"page_webgraph_path,omitempty"`

	// Plumbing for models this core treats as non-goals, kept as optional
	// config so the pipeline has a place to wire a real implementation in
	// later without a schema change.
	SafetyClassifierPath       string  `mapstructure:"safety_classifier_path" json:"safety_classifier_path,omitempty"`
	DualEncoderPath            string  `mapstructure:"dual_encoder_path" json:"dual_encoder_path,omitempty"`
	PageCentralityRankThreshold uint64 `mapstructure:"page_centrality_rank_threshold" json:"page_centrality_rank_threshold,omitempty"`
}

// DefaultIndexerConfig returns an IndexerConfig with the stock
// batch/commit defaults.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		BatchSize:                 512,
		AutocommitAfterNumInserts: 100_000,
		MinimumCleanWords:         10,
	}
}

// AdminConfig is the minimal `~/.config/neos/admin.toml` surface.
type AdminConfig struct {
	Host string `mapstructure:"host" json:"host"`
}

// Load reads a YAML config file named base (plus an optional env-specific
// overlay) from the given search paths and unmarshals it into out.
func Load(base string, paths []string, env string, out interface{}) error {
	v := viper.New()
	v.SetConfigName(base)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		return utils.Wrap(err, "load config")
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	v.AutomaticEnv()

	if err := v.Unmarshal(out); err != nil {
		return utils.Wrap(err, "unmarshal config")
	}
	return nil
}

// LoadDht loads a DhtConfig from dht.yaml under paths, applying the
// NEOS_ENV environment overlay if set.
func LoadDht(paths []string) (*DhtConfig, error) {
	cfg := &DhtConfig{}
	if err := Load("dht", paths, utils.EnvOrDefault("NEOS_ENV", ""), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIndexer loads an IndexerConfig from indexer.yaml under paths.
func LoadIndexer(paths []string) (*IndexerConfig, error) {
	cfg := DefaultIndexerConfig()
	if err := Load("indexer", paths, utils.EnvOrDefault("NEOS_ENV", ""), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AdminConfigPath returns the default per-user admin config path,
// `~/.config/neos/admin.toml`.
func AdminConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", utils.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".config", "neos", "admin.toml"), nil
}

// LoadAdmin reads the admin TOML config from its fixed path.
func LoadAdmin() (*AdminConfig, error) {
	path, err := AdminConfigPath()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load admin config")
	}
	cfg := &AdminConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal admin config")
	}
	return cfg, nil
}
