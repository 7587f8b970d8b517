// Package storage implements the registry's backend over a storage
// driver: content-addressed blobs, upload sessions, manifests with dual
// tag and digest indexing, tag enumeration, garbage collection and
// upload purging.
package storage

import (
	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
)

// Registry is the top-level entry to the storage backend. Instances are
// cheap and safe to share between goroutines; all state lives in the
// driver.
type Registry struct {
	driver storagedriver.StorageDriver
}

// NewRegistry creates a registry over the provided driver.
func NewRegistry(driver storagedriver.StorageDriver) *Registry {
	return &Registry{driver: driver}
}

// Driver exposes the underlying storage driver for maintenance tasks
// such as garbage collection and upload purging.
func (reg *Registry) Driver() storagedriver.StorageDriver {
	return reg.driver
}

// Repository returns partition-scoped access to blobs, manifests, tags
// and upload sessions. Instances should be request scoped; they are
// cheap to allocate.
func (reg *Registry) Repository(org, repo string) *Repository {
	return &Repository{
		registry: reg,
		org:      org,
		repo:     repo,
	}
}

// Repository provides access to the stores of one (org, repo) partition.
type Repository struct {
	registry *Registry
	org      string
	repo     string
}

// Name returns the canonical "org/repo" form used in URLs and
// authorization patterns.
func (repo *Repository) Name() string {
	return repo.org + "/" + repo.repo
}

// Blobs returns the partition's blob store.
func (repo *Repository) Blobs() *BlobStore {
	return &BlobStore{repository: repo, driver: repo.registry.driver}
}

// Uploads returns the partition's upload session store.
func (repo *Repository) Uploads() *UploadStore {
	return &UploadStore{repository: repo, driver: repo.registry.driver}
}

// Manifests returns the partition's manifest store.
func (repo *Repository) Manifests() *ManifestStore {
	return &ManifestStore{repository: repo, driver: repo.registry.driver}
}

// Tags returns the partition's tag store.
func (repo *Repository) Tags() *TagStore {
	return &TagStore{repository: repo, driver: repo.registry.driver}
}
