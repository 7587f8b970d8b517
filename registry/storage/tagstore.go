package storage

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
)

// TagStore enumerates the human-readable tags of a partition.
type TagStore struct {
	repository *Repository
	driver     storagedriver.StorageDriver
}

// All returns the partition's tags in lexical order. Digest keys written
// by dual indexing are not tags and are skipped. A repository that has
// never seen a manifest yields an empty list, not an error.
func (ts *TagStore) All(ctx context.Context) ([]string, error) {
	tagsPath, err := pathFor(manifestTagsPathSpec{
		org:  ts.repository.org,
		repo: ts.repository.repo,
	})
	if err != nil {
		return nil, err
	}

	entries, err := ts.driver.List(ctx, tagsPath)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return []string{}, nil
		}
		return nil, err
	}

	tags := make([]string, 0, len(entries))
	for _, entry := range entries {
		_, filename := path.Split(entry)
		if strings.HasPrefix(filename, "sha256:") {
			continue
		}
		tags = append(tags, filename)
	}
	sort.Strings(tags)

	return tags, nil
}
