// Package gcs stores confirmed-page snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config selects the bucket and the attributes stamped on every snapshot.
type Config struct {
	Bucket string
	// Metadata is attached as custom object metadata.
	Metadata map[string]string
	// ChunkSize of 0 uploads each snapshot in a single request.
	ChunkSize int
}

// BlobStore is a write-once snapshot archive.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	cfg    Config
}

// New binds a BlobStore to cfg.Bucket on client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("storage client is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket, cfg: cfg}, nil
}

// PutObject uploads a snapshot unless one already exists at objectPath, and
// returns its gs:// URI in both cases.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	objectPath = strings.TrimLeft(strings.TrimSpace(objectPath), "/")
	if objectPath == "" {
		return "", errors.New("object path is required")
	}
	uri := "gs://" + s.name + "/" + objectPath

	w := s.bucket.Object(objectPath).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ChunkSize = s.cfg.ChunkSize
	w.ContentType = contentType
	if len(s.cfg.Metadata) > 0 {
		w.Metadata = s.cfg.Metadata
	}

	_, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	switch {
	case copyErr != nil:
		return "", fmt.Errorf("upload %s: %w", uri, errors.Join(copyErr, closeErr))
	case alreadyStored(closeErr):
		return uri, nil
	case closeErr != nil:
		return "", fmt.Errorf("upload %s: %w", uri, closeErr)
	}
	return uri, nil
}

// alreadyStored reports the DoesNotExist precondition failing.
func alreadyStored(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
