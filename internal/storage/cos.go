package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSConfig locates the COS bucket that holds graph state snapshots.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // defaults to myqcloud.com
	Scheme    string // defaults to https
}

// COSStorage keeps graph state snapshots in a Tencent Cloud COS bucket so
// that builds on different machines share one incremental state.
type COSStorage struct {
	client    *cos.Client
	bucketURL *url.URL
}

// NewCOSStorage creates a COS-backed state store.
func NewCOSStorage(cfg *COSConfig) (*COSStorage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("COS state bucket and region are required")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("COS state store credentials are required")
	}

	base, err := cosBaseURL(cfg)
	if err != nil {
		return nil, err
	}
	client := cos.NewClient(base, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSStorage{client: client, bucketURL: base.BucketURL}, nil
}

func cosBaseURL(cfg *COSConfig) (*cos.BaseURL, error) {
	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	bucketURL, err := url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("invalid COS state bucket URL: %w", err)
	}
	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("invalid COS service URL: %w", err)
	}
	return &cos.BaseURL{BucketURL: bucketURL, ServiceURL: serviceURL}, nil
}

// Upload replaces the snapshot at key with the content of reader.
func (s *COSStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: "application/octet-stream"},
	}
	if _, err := s.client.Object.Put(ctx, key, reader, opt); err != nil {
		return fmt.Errorf("failed to upload graph state %s to COS: %w", key, err)
	}
	return nil
}

// Download opens the snapshot at key. A missing snapshot matches ErrNotFound.
func (s *COSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download graph state %s from COS: %w", key, err)
	}
	return resp.Body, nil
}

// Delete drops the snapshot at key. COS treats a missing key as deleted.
func (s *COSStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Object.Delete(ctx, key, nil); err != nil {
		return fmt.Errorf("failed to delete graph state %s from COS: %w", key, err)
	}
	return nil
}

// Exists reports whether a snapshot is stored at key. Load consults it before
// downloading.
func (s *COSStorage) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Object.IsExist(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to look up graph state %s in COS: %w", key, err)
	}
	return ok, nil
}

// Location returns the snapshot URL of key.
func (s *COSStorage) Location(key string) string {
	return s.bucketURL.JoinPath(key).String()
}
