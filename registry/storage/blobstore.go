package storage

import (
	"context"
	"errors"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/pierrelefevre/grain/internal/dcontext"
	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
)

// BlobStore provides content-addressed blob access within one repository
// partition. Blobs are verified against their digest before they become
// visible and are immutable afterwards.
type BlobStore struct {
	repository *Repository
	driver     storagedriver.StorageDriver
}

// Stat returns the size in bytes of the blob addressed by dgst.
func (bs *BlobStore) Stat(ctx context.Context, dgst digest.Digest) (int64, error) {
	bp, err := bs.path(dgst)
	if err != nil {
		return 0, err
	}

	fi, err := bs.driver.Stat(ctx, bp)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return 0, ErrBlobUnknown
		}
		return 0, err
	}

	return fi.Size(), nil
}

// Get retrieves the blob by digest as a byte slice. This should only be
// used for small objects; Open streams.
func (bs *BlobStore) Get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	bp, err := bs.path(dgst)
	if err != nil {
		return nil, err
	}

	p, err := bs.driver.GetContent(ctx, bp)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return nil, ErrBlobUnknown
		}
		return nil, err
	}

	return p, nil
}

// Open returns a reader positioned at the start of the blob. The caller
// closes it.
func (bs *BlobStore) Open(ctx context.Context, dgst digest.Digest) (io.ReadCloser, error) {
	bp, err := bs.path(dgst)
	if err != nil {
		return nil, err
	}

	rc, err := bs.driver.Reader(ctx, bp, 0)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return nil, ErrBlobUnknown
		}
		return nil, err
	}

	return rc, nil
}

// Put verifies p against dgst and writes it at the blob path. The write
// is durable before Put returns. A mismatch returns ErrDigestMismatch and
// writes nothing.
func (bs *BlobStore) Put(ctx context.Context, dgst digest.Digest, p []byte) error {
	if dgst.Algorithm().FromBytes(p) != dgst {
		return ErrDigestMismatch
	}

	bp, err := bs.path(dgst)
	if err != nil {
		return err
	}

	return bs.driver.PutContent(ctx, bp, p)
}

// Delete removes the blob from this partition. Content mounted into other
// partitions stays reachable there.
func (bs *BlobStore) Delete(ctx context.Context, dgst digest.Digest) error {
	bp, err := bs.path(dgst)
	if err != nil {
		return err
	}

	if err := bs.driver.Delete(ctx, bp); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return ErrBlobUnknown
		}
		return err
	}

	return nil
}

// Mount makes the blob dgst from another partition visible in this one
// without a second upload. The driver link is attempted first; any link
// failure falls back to copying bytes, so mounts still work across
// filesystem boundaries. Mounting a blob that is already present
// succeeds.
func (bs *BlobStore) Mount(ctx context.Context, from *Repository, dgst digest.Digest) error {
	srcPath, err := pathFor(blobDataPathSpec{org: from.org, repo: from.repo, digest: dgst})
	if err != nil {
		return err
	}
	dstPath, err := bs.path(dgst)
	if err != nil {
		return err
	}

	if _, err := bs.driver.Stat(ctx, srcPath); err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return ErrBlobUnknown
		}
		return err
	}

	if _, err := bs.driver.Stat(ctx, dstPath); err == nil {
		return nil
	}

	if err := bs.driver.Link(ctx, srcPath, dstPath); err != nil {
		dcontext.GetLogger(ctx).Warnf("link %s -> %s failed, copying instead: %v", srcPath, dstPath, err)
		return bs.copy(ctx, srcPath, dstPath)
	}

	return nil
}

func (bs *BlobStore) copy(ctx context.Context, srcPath, dstPath string) error {
	reader, err := bs.driver.Reader(ctx, srcPath, 0)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := bs.driver.Writer(ctx, dstPath, false)
	if err != nil {
		return err
	}
	defer writer.Close()

	if _, err := io.Copy(writer, reader); err != nil {
		writer.Cancel()
		return err
	}

	return writer.Commit()
}

// path returns the driver path for the blob identified by dgst. The blob
// may or may not exist.
func (bs *BlobStore) path(dgst digest.Digest) (string, error) {
	return pathFor(blobDataPathSpec{
		org:    bs.repository.org,
		repo:   bs.repository.repo,
		digest: dgst,
	})
}
