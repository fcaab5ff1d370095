package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/pkg/config"
)

func TestNewStorage(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		storage, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, storage)
	})

	t.Run("EmptyTypeIsLocal", func(t *testing.T) {
		storage, err := NewStorage(&config.StorageConfig{LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, storage)
	})

	t.Run("COS", func(t *testing.T) {
		storage, err := NewStorage(&config.StorageConfig{
			Type:      "cos",
			Bucket:    "test-bucket",
			Region:    "ap-guangzhou",
			SecretID:  "test-id",
			SecretKey: "test-key",
		})
		require.NoError(t, err)
		assert.IsType(t, &COSStorage{}, storage)
	})

	t.Run("S3", func(t *testing.T) {
		storage, err := NewStorage(&config.StorageConfig{
			Type:      "s3",
			Endpoint:  "localhost:9000",
			Bucket:    "state",
			SecretID:  "access",
			SecretKey: "secret",
		})
		require.NoError(t, err)
		assert.IsType(t, &S3Storage{}, storage)
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{"NilConfig", nil, "storage config is nil"},
		{"UnknownType", &config.StorageConfig{Type: "ftp"}, "unsupported storage type"},
		{"LocalMissingPath", &config.StorageConfig{Type: "local"}, "local storage path is required"},
		{"COSMissingBucket", &config.StorageConfig{Type: "cos", Region: "r", SecretID: "i", SecretKey: "k"}, "COS bucket is required"},
		{"COSMissingRegion", &config.StorageConfig{Type: "cos", Bucket: "b", SecretID: "i", SecretKey: "k"}, "COS region is required"},
		{"COSMissingCredentials", &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r"}, "COS credentials are required"},
		{"S3MissingEndpoint", &config.StorageConfig{Type: "s3", Bucket: "b", SecretID: "i", SecretKey: "k"}, "S3 endpoint is required"},
		{"S3MissingBucket", &config.StorageConfig{Type: "s3", Endpoint: "e", SecretID: "i", SecretKey: "k"}, "S3 bucket is required"},
		{"S3MissingCredentials", &config.StorageConfig{Type: "s3", Endpoint: "e", Bucket: "b"}, "S3 credentials are required"},
		{"ValidLocal", &config.StorageConfig{Type: "local", LocalPath: "/tmp/state"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
