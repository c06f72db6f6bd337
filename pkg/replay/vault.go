package replay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Vault stores and retrieves the raw bytes the pipeline forwarded to and
// received from a provider, keyed by an opaque object key (the pipeline
// uses "requests/<request_id>" and "responses/<request_id>"). Replay is the
// only consumer that reads these objects back; the gateway's request path
// only ever writes to a Vault.
type Vault interface {
	Put(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// VaultConfig holds S3-compatible storage configuration, mirroring
// clientstore.RemoteConfig's shape since both sit on the same minio client.
type VaultConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Vault is a minio-backed Vault. Unlike clientstore.RemoteStore, keys are
// caller-supplied object paths rather than hashed API keys: replay bodies
// carry no credential material, so there's nothing to hide in a bucket
// listing.
type S3Vault struct {
	mc     *minio.Client
	bucket string
}

// NewVault connects to the S3-compatible endpoint and ensures the backing
// bucket exists.
func NewVault(ctx context.Context, cfg VaultConfig) (*S3Vault, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("replay: vault connect: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("replay: vault check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("replay: vault create bucket: %w", err)
		}
	}

	return &S3Vault{mc: mc, bucket: cfg.Bucket}, nil
}

// Put implements Vault.
func (v *S3Vault) Put(ctx context.Context, key string, data []byte) error {
	_, err := v.mc.PutObject(ctx, v.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("replay: vault put %s: %w", key, err)
	}
	return nil
}

// Fetch implements Vault.
func (v *S3Vault) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := v.mc.GetObject(ctx, v.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("replay: vault fetch %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("replay: vault read %s: %w", key, err)
	}
	return data, nil
}

// Checksum returns the sha256 hex digest of data, used to detect tampering
// between when a body was vaulted and when it's replayed.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// VerifyChecksum reports whether data matches a previously computed digest.
func VerifyChecksum(data []byte, digest string) bool {
	return Checksum(data) == digest
}
