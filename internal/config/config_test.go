package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// unsetAfter removes variables a .env file put into the process environment.
func unsetAfter(t *testing.T, names ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, n := range names {
			os.Unsetenv(n)
		}
	})
}

func TestLoad_Absent(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKeys)
	assert.Empty(t, cfg.Engine)
	assert.False(t, cfg.Artifact.Enabled())
	assert.Equal(t, DefaultRegion, cfg.Artifact.Region)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "impulsemerge.yaml", `
apiKeys: [ei_a, ei_b]
quantizationMap: "1,0"
engine: tflite
outDirectory: build
fullTFLite: true
artifact:
  endpoint: minio:9000
  bucket: merges
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ei_a", "ei_b"}, cfg.APIKeys)
	assert.Equal(t, "1,0", cfg.QuantizationMap)
	assert.Equal(t, "tflite", cfg.Engine)
	assert.Equal(t, "build", cfg.OutDirectory)
	assert.True(t, cfg.FullTFLite)
	assert.True(t, cfg.Artifact.Enabled())
	assert.False(t, cfg.Artifact.UseSSL)
}

func TestLoad_PrefersYML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "impulsemerge.yml", "engine: eon\n")
	writeFile(t, dir, "impulsemerge.yaml", "engine: tflite\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "eon", cfg.Engine)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "impulsemerge.yml", "apiKeys: [unterminated\n")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "impulsemerge.yml", "apiKeys: [file_key]\nstudioURL: https://file.example\n")

	t.Setenv(EnvAPIKeys, " env_a, env_b ,")
	t.Setenv(EnvStudioURL, "https://studio.example/v1/api")
	t.Setenv(EnvArtifactEndpoint, "s3.example:443")
	t.Setenv(EnvArtifactBucket, "impulses")
	t.Setenv(EnvArtifactRegion, "eu-west-1")
	t.Setenv(EnvArtifactUseSSL, "true")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"env_a", "env_b"}, cfg.APIKeys)
	assert.Equal(t, "https://studio.example/v1/api", cfg.StudioURL)
	assert.Equal(t, ArtifactConfig{
		Endpoint: "s3.example:443",
		Region:   "eu-west-1",
		Bucket:   "impulses",
		UseSSL:   true,
	}, cfg.Artifact)
}

func TestLoad_BadUseSSL(t *testing.T) {
	t.Setenv(EnvArtifactUseSSL, "sometimes")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, EnvArtifactUseSSL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", EnvArtifactAccessKey+"=minio\n"+EnvArtifactSecretKey+"=minio123\n")
	unsetAfter(t, EnvArtifactAccessKey, EnvArtifactSecretKey)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "minio", cfg.Artifact.AccessKey)
	assert.Equal(t, "minio123", cfg.Artifact.SecretKey)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yml", "tmpDirectory: /tmp/ei\nforceBuild: true\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ei", cfg.TmpDirectory)
	assert.True(t, cfg.ForceBuild)

	_, err = LoadFile(filepath.Join(dir, "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
