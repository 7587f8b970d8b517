package userfile

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/pierrelefevre/grain/internal/dcontext"
)

// Watch reloads the store whenever its backing file changes on disk, so
// user and permission edits take effect without a restart. It blocks until
// ctx is canceled or the watcher fails to start.
//
// The parent directory is watched rather than the file itself: save replaces
// the file with an atomic rename, which would drop a watch pinned to the old
// inode. Saves made through the store land here too; the extra reload just
// reads back what was written.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	logger := dcontext.GetLogger(ctx)
	logger.Debugf("watching %s for user changes", s.path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Load(); err != nil {
				logger.Errorf("failed reloading users from %s: %v", s.path, err)
				continue
			}
			logger.Infof("reloaded %d users from %s", s.Len(), s.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("error watching %s: %v", s.path, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
