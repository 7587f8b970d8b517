package driver

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"
)

// ErrSkipDir is used as a return value from onFileFunc to indicate that
// the directory named in the call is to be skipped. It is not returned
// as an error by any function.
var ErrSkipDir = errors.New("skip this directory")

// WalkFn is called once per file by Walk
type WalkFn func(fileInfo FileInfo) error

// WalkFallback traverses a filesystem defined within driver, starting
// from the given path, calling f on each file. It uses the List and Stat
// methods to drive itself.
// If the returned error from the WalkFn is ErrSkipDir and fileInfo refers
// to a directory, the directory will not be entered and Walk
// will continue the traversal. If fileInfo refers to a normal file, processing stops.
func WalkFallback(ctx context.Context, driver StorageDriver, from string, f WalkFn) error {
	err, _ := doWalkFallback(ctx, driver, from, f)
	return err
}

func doWalkFallback(ctx context.Context, driver StorageDriver, from string, f WalkFn) (error, bool) {
	children, err := driver.List(ctx, from)
	if err != nil {
		return err, false
	}
	sort.Stable(sort.StringSlice(children))
	for _, child := range children {
		fileInfo, err := driver.Stat(ctx, child)
		if err != nil {
			var pnfErr PathNotFoundError
			if errors.As(err, &pnfErr) {
				// path was removed in between listing and enumeration, ignore it
				logrus.WithField("path", child).Infof("ignoring deleted path")
				continue
			}
			return err, false
		}
		err = f(fileInfo)
		if err == nil && fileInfo.IsDir() {
			if err, ok := doWalkFallback(ctx, driver, child, f); err != nil || !ok {
				return err, ok
			}
		} else if errors.Is(err, ErrSkipDir) {
			// noop for folders, will just skip
			if !fileInfo.IsDir() {
				return nil, false // no error but stop iteration
			}
		} else if err != nil {
			return err, false
		}
	}
	return nil, true
}

// WalkFilesFallback traverses a filesystem defined within driver, starting
// from the given path, calling f on each regular file. Directories are
// entered but never passed to f. Any error returned by f, including
// ErrSkipDir, stops the walk and is returned to the caller.
func WalkFilesFallback(ctx context.Context, driver StorageDriver, from string, f WalkFn) error {
	children, err := driver.List(ctx, from)
	if err != nil {
		return err
	}
	sort.Stable(sort.StringSlice(children))
	for _, child := range children {
		fileInfo, err := driver.Stat(ctx, child)
		if err != nil {
			var pnfErr PathNotFoundError
			if errors.As(err, &pnfErr) {
				logrus.WithField("path", child).Infof("ignoring deleted path")
				continue
			}
			return err
		}
		if fileInfo.IsDir() {
			if err := WalkFilesFallback(ctx, driver, child, f); err != nil {
				return err
			}
			continue
		}
		if err := f(fileInfo); err != nil {
			return err
		}
	}
	return nil
}
