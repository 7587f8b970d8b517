package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/opencontainers/go-digest"

	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
)

// ManifestStore keeps manifests under one repository partition, indexed
// by reference: a tag name, or the "sha256:<hex>" form of the content
// digest.
type ManifestStore struct {
	repository *Repository
	driver     storagedriver.StorageDriver
}

// Exists reports whether a manifest is stored under reference.
func (ms *ManifestStore) Exists(ctx context.Context, reference string) (bool, error) {
	mp, err := ms.path(reference)
	if err != nil {
		return false, err
	}

	if _, err := ms.driver.Stat(ctx, mp); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// Get returns the bytes stored under reference.
func (ms *ManifestStore) Get(ctx context.Context, reference string) ([]byte, error) {
	mp, err := ms.path(reference)
	if err != nil {
		return nil, err
	}

	payload, err := ms.driver.GetContent(ctx, mp)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return nil, ErrManifestUnknown
		}
		return nil, err
	}

	return payload, nil
}

// Put stores payload under reference. A tag reference is additionally
// indexed under the computed content digest, so the same bytes resolve by
// either key afterwards. The computed digest is returned either way.
func (ms *ManifestStore) Put(ctx context.Context, reference string, payload []byte) (digest.Digest, error) {
	dgst := digest.FromBytes(payload)

	mp, err := ms.path(reference)
	if err != nil {
		return "", err
	}
	if err := ms.driver.PutContent(ctx, mp, payload); err != nil {
		return "", err
	}

	if !strings.HasPrefix(reference, "sha256:") {
		dp, err := ms.path(dgst.String())
		if err != nil {
			return "", err
		}
		if err := ms.driver.PutContent(ctx, dp, payload); err != nil {
			return "", err
		}
	}

	return dgst, nil
}

// Delete removes the manifest stored under reference. Only the addressed
// key is removed; a tag's digest twin remains resolvable.
func (ms *ManifestStore) Delete(ctx context.Context, reference string) error {
	mp, err := ms.path(reference)
	if err != nil {
		return err
	}

	if err := ms.driver.Delete(ctx, mp); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return ErrManifestUnknown
		}
		return err
	}

	return nil
}

// path returns the driver path for the manifest stored under reference.
func (ms *ManifestStore) path(reference string) (string, error) {
	return pathFor(manifestDataPathSpec{
		org:       ms.repository.org,
		repo:      ms.repository.repo,
		reference: reference,
	})
}
