// Package media processes user images and stores them in object storage.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/campus/internal/metrics"
)

// ErrNotConfigured is returned when no object store is set up.
var ErrNotConfigured = errors.New("file storage is not configured")

// Uploader processes and stores images under "<variant>/<owner>/<ulid>.jpg".
type Uploader struct {
	store ObjectStore
	proc  *Processor
}

// NewUploader creates an uploader. A nil store disables uploads.
func NewUploader(store ObjectStore, proc *Processor) *Uploader {
	return &Uploader{store: store, proc: proc}
}

// Enabled reports whether an object store is configured.
func (u *Uploader) Enabled() bool {
	return u != nil && u.store != nil
}

// Upload stores an image and returns its object key and public URL.
func (u *Uploader) Upload(ctx context.Context, owner uuid.UUID, data []byte, v Variant) (key, url string, err error) {
	if !u.Enabled() {
		return "", "", ErrNotConfigured
	}
	if len(data) > MaxUploadSize {
		return "", "", fmt.Errorf("%w: file exceeds %d bytes", ErrImageTooLarge, MaxUploadSize)
	}

	out, err := u.proc.Process(data, v)
	if err != nil {
		return "", "", err
	}

	key = ObjectKey(v, owner)
	if err := u.store.Put(ctx, key, "image/jpeg", out); err != nil {
		return "", "", err
	}
	metrics.UploadsTotal.WithLabelValues(v.Name).Inc()
	return key, u.store.URL(key), nil
}

// DocumentURL returns a short-lived link to a private verification document.
func (u *Uploader) DocumentURL(ctx context.Context, key string) (string, error) {
	if !u.Enabled() {
		return "", ErrNotConfigured
	}
	return u.store.PresignGet(ctx, key, documentLinkTTL)
}

// Ping checks the object store.
func (u *Uploader) Ping(ctx context.Context) error {
	if !u.Enabled() {
		return ErrNotConfigured
	}
	return u.store.Ping(ctx)
}

// ObjectKey returns a new time-ordered key for an image of owner.
func ObjectKey(v Variant, owner uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s.jpg", v.Name, owner, ulid.Make())
}
