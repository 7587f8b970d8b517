package storage

import (
	"context"
	"errors"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/pierrelefevre/grain/internal/uuid"
	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
)

// UploadStore manages the append-only session files behind chunked blob
// uploads. A session is created empty, extended by appends, and leaves
// the store either by finalization into the blob store or by removal.
type UploadStore struct {
	repository *Repository
	driver     storagedriver.StorageDriver
}

// Create opens a new upload session and returns its id.
func (us *UploadStore) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()

	up, err := us.path(id)
	if err != nil {
		return "", err
	}

	if err := us.driver.PutContent(ctx, up, nil); err != nil {
		return "", err
	}

	return id, nil
}

// Append adds chunk to the session and returns the accumulated size.
func (us *UploadStore) Append(ctx context.Context, id string, chunk []byte) (int64, error) {
	up, err := us.path(id)
	if err != nil {
		return 0, err
	}

	// The writer would create a missing file, which must not resurrect a
	// session that was finalized or never opened.
	if _, err := us.driver.Stat(ctx, up); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return 0, ErrUploadUnknown
		}
		return 0, err
	}

	writer, err := us.driver.Writer(ctx, up, true)
	if err != nil {
		return 0, err
	}
	defer writer.Close()

	if _, err := writer.Write(chunk); err != nil {
		return 0, err
	}
	if err := writer.Commit(); err != nil {
		return 0, err
	}

	return writer.Size(), nil
}

// Finalize verifies the accumulated session content against expected and
// moves it into the blob store. On a digest mismatch the session is left
// in place for the caller to remove. A session that disappeared, usually
// to a concurrent finalization, reports ErrUploadUnknown.
func (us *UploadStore) Finalize(ctx context.Context, id string, expected digest.Digest) error {
	up, err := us.path(id)
	if err != nil {
		return err
	}

	reader, err := us.driver.Reader(ctx, up, 0)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return ErrUploadUnknown
		}
		return err
	}

	digester := expected.Algorithm().Digester()
	_, err = io.Copy(digester.Hash(), reader)
	reader.Close()
	if err != nil {
		return err
	}

	if digester.Digest() != expected {
		return ErrDigestMismatch
	}

	bp, err := pathFor(blobDataPathSpec{
		org:    us.repository.org,
		repo:   us.repository.repo,
		digest: expected,
	})
	if err != nil {
		return err
	}

	if err := us.driver.Move(ctx, up, bp); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return ErrUploadUnknown
		}
		return err
	}

	return nil
}

// Remove deletes the session file without placing a blob.
func (us *UploadStore) Remove(ctx context.Context, id string) error {
	up, err := us.path(id)
	if err != nil {
		return err
	}

	if err := us.driver.Delete(ctx, up); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return ErrUploadUnknown
		}
		return err
	}

	return nil
}

// path returns the driver path for the session identified by id.
func (us *UploadStore) path(id string) (string, error) {
	return pathFor(uploadDataPathSpec{
		org:  us.repository.org,
		repo: us.repository.repo,
		id:   id,
	})
}
