package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIKeys           = "EI_API_KEYS"
	EnvStudioURL         = "EI_STUDIO_URL"
	EnvArtifactEndpoint  = "IMPULSEMERGE_ARTIFACT_ENDPOINT"
	EnvArtifactRegion    = "IMPULSEMERGE_ARTIFACT_REGION"
	EnvArtifactAccessKey = "IMPULSEMERGE_ARTIFACT_ACCESS_KEY"
	EnvArtifactSecretKey = "IMPULSEMERGE_ARTIFACT_SECRET_KEY"
	EnvArtifactBucket    = "IMPULSEMERGE_ARTIFACT_BUCKET"
	EnvArtifactUseSSL    = "IMPULSEMERGE_ARTIFACT_USE_SSL"
)

// DefaultRegion is used when an artifact store is configured without one.
const DefaultRegion = "us-east-1"

// ProjectConfig holds settings loaded from impulsemerge.yml and the
// environment. Command-line flags take precedence over both.
type ProjectConfig struct {
	APIKeys         []string       `yaml:"apiKeys,omitempty"`
	QuantizationMap string         `yaml:"quantizationMap,omitempty"`
	Engine          string         `yaml:"engine,omitempty"`
	TmpDirectory    string         `yaml:"tmpDirectory,omitempty"`
	OutDirectory    string         `yaml:"outDirectory,omitempty"`
	ForceBuild      bool           `yaml:"forceBuild,omitempty"`
	FullTFLite      bool           `yaml:"fullTFLite,omitempty"`
	DriverTemplate  string         `yaml:"driverTemplate,omitempty"`
	StudioURL       string         `yaml:"studioURL,omitempty"`
	Verbose         bool           `yaml:"verbose,omitempty"`
	Artifact        ArtifactConfig `yaml:"artifact,omitempty"`
}

// ArtifactConfig locates the S3-compatible bucket merged archives are
// published to.
type ArtifactConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"accessKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	UseSSL    bool   `yaml:"useSSL,omitempty"`
}

// Enabled reports whether enough is configured to publish.
func (a ArtifactConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// Load attempts to read impulsemerge.yml or impulsemerge.yaml from the given
// directory, then applies .env and environment overrides. Returns a
// zero-value config (not an error) if no config file exists.
func Load(dir string) (*ProjectConfig, error) {
	cfg := &ProjectConfig{}
	for _, name := range []string{"impulsemerge.yml", "impulsemerge.yaml"} {
		loaded, err := readFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cfg = loaded
		break
	}
	if err := finish(cfg, dir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads an explicitly named config file. Unlike Load, a missing
// file is an error. A .env next to the file is honored.
func LoadFile(path string) (*ProjectConfig, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := finish(cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

func finish(cfg *ProjectConfig, dir string) error {
	// Variables already set in the process environment win over .env.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return cfg.applyEnv()
}

func (c *ProjectConfig) applyEnv() error {
	if keys := splitList(os.Getenv(EnvAPIKeys)); len(keys) > 0 {
		c.APIKeys = keys
	}
	c.StudioURL = firstNonEmpty(env(EnvStudioURL), c.StudioURL)

	a := &c.Artifact
	a.Endpoint = firstNonEmpty(env(EnvArtifactEndpoint), a.Endpoint)
	a.AccessKey = firstNonEmpty(env(EnvArtifactAccessKey), a.AccessKey)
	a.SecretKey = firstNonEmpty(env(EnvArtifactSecretKey), a.SecretKey)
	a.Bucket = firstNonEmpty(env(EnvArtifactBucket), a.Bucket)
	a.Region = firstNonEmpty(env(EnvArtifactRegion), a.Region, DefaultRegion)
	if raw := env(EnvArtifactUseSSL); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvArtifactUseSSL, err)
		}
		a.UseSSL = v
	}
	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
