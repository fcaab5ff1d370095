package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Storage(t *testing.T) {
	valid := S3Config{Endpoint: "localhost:9000", AccessKey: "access", SecretKey: "secret", Bucket: "state"}

	tests := []struct {
		name    string
		mutate  func(c *S3Config)
		wantErr string
	}{
		{name: "missing endpoint", mutate: func(c *S3Config) { c.Endpoint = " " }, wantErr: "endpoint is required"},
		{name: "missing keys", mutate: func(c *S3Config) { c.SecretKey = "" }, wantErr: "access key and secret key are required"},
		{name: "missing bucket", mutate: func(c *S3Config) { c.Bucket = "" }, wantErr: "bucket is required"},
		{name: "valid", mutate: func(c *S3Config) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			storage, err := NewS3Storage(&cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "us-east-1", storage.region)
		})
	}
}

func TestS3Storage_Location(t *testing.T) {
	plain, err := NewS3Storage(&S3Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", Bucket: "state"})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/state/shrinker/graph.bin", plain.Location("/shrinker/graph.bin"))

	secure, err := NewS3Storage(&S3Config{Endpoint: "s3.example.com", AccessKey: "a", SecretKey: "s", Bucket: "b", UseSSL: true})
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/b/k", secure.Location("k"))
}
