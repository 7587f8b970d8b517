package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/storage/driver"
)

// GCOpts contains options for the garbage collector.
type GCOpts struct {
	DryRun      bool
	GracePeriod time.Duration
}

// GCStats reports what a garbage collection run saw and did.
// Blob counts are per (org, repo) instance: the same content stored under
// two partitions is two blobs here. BlobsReferenced is the size of the
// referenced digest set.
type GCStats struct {
	BlobsScanned      int    `json:"blobs_scanned"`
	ManifestsScanned  int    `json:"manifests_scanned"`
	BlobsReferenced   int    `json:"blobs_referenced"`
	BlobsUnreferenced int    `json:"blobs_unreferenced"`
	BlobsDeleted      int    `json:"blobs_deleted"`
	BytesFreed        int64  `json:"bytes_freed"`
	DurationSeconds   uint64 `json:"duration_seconds"`
}

// unreferencedBlob locates one sweepable blob instance.
type unreferencedBlob struct {
	path string
	size int64
}

// MarkAndSweep deletes unreferenced blobs older than the grace period.
// The mark phase collects every digest referenced from any manifest in
// any partition; the sweep deletes blob files whose digest was never
// marked. Runs must not overlap active writes: a blob uploaded but not
// yet referenced by a manifest looks unreferenced, and the grace period
// is what protects in-flight pushes.
func MarkAndSweep(ctx context.Context, storageDriver driver.StorageDriver, opts GCOpts) (*GCStats, error) {
	start := time.Now()
	stats := &GCStats{}
	logger := dcontext.GetLogger(ctx)

	logger.Infof("garbage-collect: starting (dry run: %t, grace period: %s)", opts.DryRun, opts.GracePeriod)

	// mark
	markSet := make(map[string]struct{})
	err := driver.WalkFilesFallback(ctx, storageDriver, manifestsRoot, func(fileInfo driver.FileInfo) error {
		if !partitionFile(manifestsRoot, fileInfo.Path()) {
			return nil
		}
		stats.ManifestsScanned++

		payload, err := storageDriver.GetContent(ctx, fileInfo.Path())
		if err != nil {
			logger.Warnf("garbage-collect: failed reading manifest %s: %v", fileInfo.Path(), err)
			return nil
		}
		markReferences(payload, markSet)
		return nil
	})
	if err != nil && !errors.As(err, new(driver.PathNotFoundError)) {
		return nil, fmt.Errorf("failed to mark: %v", err)
	}
	stats.BlobsReferenced = len(markSet)

	logger.Infof("garbage-collect: %d referenced blobs from %d manifests", stats.BlobsReferenced, stats.ManifestsScanned)

	// enumerate
	var unreferenced []unreferencedBlob
	err = driver.WalkFilesFallback(ctx, storageDriver, blobsRoot, func(fileInfo driver.FileInfo) error {
		if !partitionFile(blobsRoot, fileInfo.Path()) {
			return nil
		}
		stats.BlobsScanned++

		if _, marked := markSet[path.Base(fileInfo.Path())]; !marked {
			unreferenced = append(unreferenced, unreferencedBlob{
				path: fileInfo.Path(),
				size: fileInfo.Size(),
			})
		}
		return nil
	})
	if err != nil && !errors.As(err, new(driver.PathNotFoundError)) {
		return nil, fmt.Errorf("failed to enumerate blobs: %v", err)
	}
	stats.BlobsUnreferenced = len(unreferenced)

	// sweep
	if opts.DryRun {
		logger.Infof("garbage-collect: dry run, would delete %d of %d blobs", stats.BlobsUnreferenced, stats.BlobsScanned)
	} else {
		for _, blob := range unreferenced {
			// Stat again for a current mtime: the scan may be long and a
			// mount or re-upload refreshes the file.
			fi, err := storageDriver.Stat(ctx, blob.path)
			if err != nil {
				logger.Warnf("garbage-collect: failed to stat %s: %v", blob.path, err)
				continue
			}
			if time.Since(fi.ModTime()) < opts.GracePeriod {
				logger.Debugf("garbage-collect: %s within grace period, keeping", blob.path)
				continue
			}

			if err := storageDriver.Delete(ctx, blob.path); err != nil {
				logger.Warnf("garbage-collect: failed to delete %s: %v", blob.path, err)
				continue
			}
			stats.BlobsDeleted++
			stats.BytesFreed += blob.size
		}
	}

	stats.DurationSeconds = uint64(time.Since(start).Seconds())
	logger.Infof("garbage-collect: deleted %d blobs, freed %d bytes in %d seconds",
		stats.BlobsDeleted, stats.BytesFreed, stats.DurationSeconds)

	return stats, nil
}

// markReferences collects the blob digests payload references into
// markSet. Config, layer, and child-manifest descriptors all count.
// Documents or fields that do not parse reference nothing; GC never
// rejects a manifest, it only reads what it can.
func markReferences(payload []byte, markSet map[string]struct{}) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return
	}

	var config struct {
		Digest string `json:"digest"`
	}
	if raw, ok := fields["config"]; ok && json.Unmarshal(raw, &config) == nil && config.Digest != "" {
		markSet[trimAlgo(config.Digest)] = struct{}{}
	}

	for _, key := range []string{"layers", "manifests"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var descriptors []struct {
			Digest string `json:"digest"`
		}
		if err := json.Unmarshal(raw, &descriptors); err != nil {
			continue
		}
		for _, desc := range descriptors {
			if desc.Digest != "" {
				markSet[trimAlgo(desc.Digest)] = struct{}{}
			}
		}
	}
}

// partitionFile reports whether p sits at the <root>/<org>/<repo>/<name>
// depth. Files anywhere else are not part of the layout and are left
// alone.
func partitionFile(root, p string) bool {
	rel, ok := strings.CutPrefix(p, root+"/")
	if !ok {
		return false
	}
	return strings.Count(rel, "/") == 2
}
