package clientstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RemoteConfig holds S3-compatible storage configuration for the remote
// client-config table backend.
type RemoteConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// RemoteStore looks up client configs from an S3-compatible key-value
// table: one JSON object per client, keyed by a salted sha256 of its API key
// (see remoteKey) so
// bucket listings never reveal raw credentials. Implementations need not
// cache across requests (spec.md §4.1); this one doesn't — every Lookup is
// a fresh GetObject.
type RemoteStore struct {
	mc     *minio.Client
	bucket string
}

// NewRemote creates a remote client-store backend and ensures the backing
// bucket exists.
func NewRemote(ctx context.Context, cfg RemoteConfig) (*RemoteStore, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("clientstore: remote connect: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("clientstore: remote check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("clientstore: remote create bucket: %w", err)
		}
	}

	return &RemoteStore{mc: mc, bucket: cfg.Bucket}, nil
}

// Lookup implements Store. A missing object is reported as ErrNotFound;
// any other storage error is returned wrapped. The orchestrator denies the
// request as unauthenticated (HTTP 401) on every Lookup error; it does not
// report a backend failure differently from an unknown key.
func (s *RemoteStore) Lookup(ctx context.Context, apiKey string) (ClientConfig, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, remoteKey(apiKey), minio.GetObjectOptions{})
	if err != nil {
		return ClientConfig{}, fmt.Errorf("clientstore: remote lookup: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return ClientConfig{}, ErrNotFound
		}
		return ClientConfig{}, fmt.Errorf("clientstore: remote read: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("clientstore: remote parse: %w", err)
	}
	cfg.APIKey = apiKey
	return cfg, nil
}

// Put writes or replaces a client config in the remote table. Used by
// operator tooling and tests; the gateway's request path is read-only.
func (s *RemoteStore) Put(ctx context.Context, cfg ClientConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clientstore: remote marshal: %w", err)
	}
	_, err = s.mc.PutObject(ctx, s.bucket, remoteKey(cfg.APIKey), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("clientstore: remote put: %w", err)
	}
	return nil
}

// remoteKey derives the object key for an API key: a salted hash so the
// bucket never stores or lists raw credentials.
func remoteKey(apiKey string) string {
	h := sha256.Sum256([]byte("clientstore-key:" + apiKey))
	return "clients/" + hex.EncodeToString(h[:])
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}
