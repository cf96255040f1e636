//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/storage"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("QUERYLENS_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("QUERYLENS_TEST_S3_ENDPOINT is not set")
	}

	cfg := config.ObjectStoreConfig{
		Enabled:          true,
		Endpoint:         endpoint,
		Region:           envOr("QUERYLENS_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("QUERYLENS_TEST_S3_BUCKET", "querylens-it"),
		AccessKeyID:      envOr("QUERYLENS_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("QUERYLENS_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	key, err := storage.DatasetArchiveKey("alice", "dataset_it0000000001", "csv")
	if err != nil {
		t.Fatalf("DatasetArchiveKey() error = %v", err)
	}
	payload := []byte("region,amount\nwest,120\n")
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: storage.ContentTypeFor("csv")}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() payload = %q", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
