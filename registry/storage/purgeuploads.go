package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/storage/driver"
)

// PurgeUploads removes upload sessions whose last write predates
// olderThan. A session's mtime refreshes on every appended chunk, so
// active uploads stay out of reach. When actuallyDelete is false the
// candidates are reported but kept. Returns the purged paths and any
// errors encountered; an error on one session does not stop the rest.
func PurgeUploads(ctx context.Context, storageDriver driver.StorageDriver, olderThan time.Time, actuallyDelete bool) ([]string, []error) {
	logger := dcontext.GetLogger(ctx)
	logger.Infof("purge uploads starting: older than %s, actually delete: %t", olderThan, actuallyDelete)

	var deleted []string
	var errs []error

	err := driver.WalkFilesFallback(ctx, storageDriver, uploadsRoot, func(fileInfo driver.FileInfo) error {
		if !partitionFile(uploadsRoot, fileInfo.Path()) {
			return nil
		}
		if !fileInfo.ModTime().Before(olderThan) {
			return nil
		}
		if actuallyDelete {
			if err := storageDriver.Delete(ctx, fileInfo.Path()); err != nil {
				errs = append(errs, err)
				return nil
			}
		}
		deleted = append(deleted, fileInfo.Path())
		return nil
	})
	if err != nil && !errors.As(err, new(driver.PathNotFoundError)) {
		errs = append(errs, err)
	}

	logger.Infof("purge uploads finished: %d deleted, %d errors", len(deleted), len(errs))
	return deleted, errs
}
