// Package testsuites holds a reusable conformance suite that every
// storagedriver.StorageDriver implementation is expected to pass.
package testsuites

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"errors"
	"io"
	"math/rand"
	"path"
	"sort"

	"github.com/stretchr/testify/suite"

	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
)

// DriverConstructor is a function which returns a new
// storagedriver.StorageDriver.
type DriverConstructor func() (storagedriver.StorageDriver, error)

// DriverTeardown is a function which cleans up a suite's
// storagedriver.StorageDriver.
type DriverTeardown func() error

// DriverSuite is a testify test suite designed to test a
// storagedriver.StorageDriver.
type DriverSuite struct {
	suite.Suite

	Constructor   DriverConstructor
	Teardown      DriverTeardown
	StorageDriver storagedriver.StorageDriver
	ctx           context.Context
}

// NewDriverSuite constructs a DriverSuite for the driver built by
// constructor. teardown may be nil.
func NewDriverSuite(ctx context.Context, constructor DriverConstructor, teardown DriverTeardown) *DriverSuite {
	return &DriverSuite{
		ctx:         ctx,
		Constructor: constructor,
		Teardown:    teardown,
	}
}

// SetupSuite sets up the test suite for tests.
func (s *DriverSuite) SetupSuite() {
	driver, err := s.Constructor()
	s.Require().NoError(err)
	s.StorageDriver = driver
}

// TearDownSuite tears down the test suite when testing is complete.
func (s *DriverSuite) TearDownSuite() {
	if s.Teardown != nil {
		s.Require().NoError(s.Teardown())
	}
}

// TestValidPaths checks that various valid file paths are accepted by the
// storage driver.
func (s *DriverSuite) TestValidPaths() {
	contents := randomContents(64)
	validFiles := []string{
		"/a",
		"/2",
		"/aa",
		"/a.a",
		"/0-9/abcdefg",
		"/abcdefg/z.75",
		"/abc/1.2.3",
		"/blobs/myorg/myrepo/0123456789abcdef",
		"/manifests/myorg/myrepo/sha256:00ff00ff",
		"/docs/readme.md",
	}

	for _, filename := range validFiles {
		err := s.StorageDriver.PutContent(s.ctx, filename, contents)
		defer s.deletePath(firstPart(filename))
		s.Require().NoError(err)

		received, err := s.StorageDriver.GetContent(s.ctx, filename)
		s.Require().NoError(err)
		s.Require().Equal(contents, received)
	}
}

// TestInvalidPaths checks that various invalid file paths are rejected by the
// storage driver.
func (s *DriverSuite) TestInvalidPaths() {
	contents := randomContents(64)
	invalidFiles := []string{
		"",
		"abc",
		"123.abc",
		"//bcd",
		"/abc_123/",
	}

	for _, filename := range invalidFiles {
		err := s.StorageDriver.PutContent(s.ctx, filename, contents)
		// only delete if file was successfully written
		if err == nil {
			defer s.deletePath(firstPart(filename))
		}
		s.Require().Error(err)
		s.Require().True(errors.As(err, new(storagedriver.InvalidPathError)))

		_, err = s.StorageDriver.GetContent(s.ctx, filename)
		s.Require().Error(err)
		s.Require().True(errors.As(err, new(storagedriver.InvalidPathError)))
	}
}

// TestWriteRead round trips some content through PutContent and GetContent.
func (s *DriverSuite) TestWriteRead() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	for _, contents := range [][]byte{
		[]byte("a"),
		[]byte("\xc3\x9f"),
		randomContents(32),
		randomContents(1024 * 1024),
	} {
		err := s.StorageDriver.PutContent(s.ctx, filename, contents)
		s.Require().NoError(err)

		readContents, err := s.StorageDriver.GetContent(s.ctx, filename)
		s.Require().NoError(err)
		s.Require().Equal(contents, readContents)
	}
}

// TestTruncate checks that putting smaller content truncates the old.
func (s *DriverSuite) TestTruncate() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	err := s.StorageDriver.PutContent(s.ctx, filename, randomContents(1024))
	s.Require().NoError(err)

	contents := randomContents(64)
	err = s.StorageDriver.PutContent(s.ctx, filename, contents)
	s.Require().NoError(err)

	readContents, err := s.StorageDriver.GetContent(s.ctx, filename)
	s.Require().NoError(err)
	s.Require().Equal(contents, readContents)
}

// TestReadNonexistent tests reading content from an empty path.
func (s *DriverSuite) TestReadNonexistent() {
	filename := randomPath(32)

	_, err := s.StorageDriver.GetContent(s.ctx, filename)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))

	_, err = s.StorageDriver.Reader(s.ctx, filename, 0)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
}

// TestWriteReadStreams round trips content through Writer and Reader.
func (s *DriverSuite) TestWriteReadStreams() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	contents := randomContents(1024 * 1024)

	writer, err := s.StorageDriver.Writer(s.ctx, filename, false)
	s.Require().NoError(err)
	written, err := io.Copy(writer, bytes.NewReader(contents))
	s.Require().NoError(err)
	s.Require().Equal(int64(len(contents)), written)
	s.Require().Equal(int64(len(contents)), writer.Size())

	err = writer.Commit()
	s.Require().NoError(err)
	err = writer.Close()
	s.Require().NoError(err)

	reader, err := s.StorageDriver.Reader(s.ctx, filename, 0)
	s.Require().NoError(err)
	defer reader.Close()

	readContents, err := io.ReadAll(reader)
	s.Require().NoError(err)
	s.Require().Equal(contents, readContents)
}

// TestWriterAppend continues a write where the last writer stopped.
func (s *DriverSuite) TestWriterAppend() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	contentsChunk1 := randomContents(1024)
	contentsChunk2 := randomContents(1024)

	writer, err := s.StorageDriver.Writer(s.ctx, filename, false)
	s.Require().NoError(err)
	_, err = writer.Write(contentsChunk1)
	s.Require().NoError(err)
	s.Require().NoError(writer.Commit())
	s.Require().NoError(writer.Close())

	writer, err = s.StorageDriver.Writer(s.ctx, filename, true)
	s.Require().NoError(err)
	s.Require().Equal(int64(len(contentsChunk1)), writer.Size())
	_, err = writer.Write(contentsChunk2)
	s.Require().NoError(err)
	s.Require().NoError(writer.Commit())
	s.Require().NoError(writer.Close())

	received, err := s.StorageDriver.GetContent(s.ctx, filename)
	s.Require().NoError(err)
	s.Require().Equal(append(append([]byte{}, contentsChunk1...), contentsChunk2...), received)
}

// TestWriterCancelDiscards verifies that cancelled writes leave nothing
// behind.
func (s *DriverSuite) TestWriterCancelDiscards() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	writer, err := s.StorageDriver.Writer(s.ctx, filename, false)
	s.Require().NoError(err)
	_, err = writer.Write(randomContents(128))
	s.Require().NoError(err)
	s.Require().NoError(writer.Cancel())

	_, err = s.StorageDriver.GetContent(s.ctx, filename)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
}

// TestReaderWithOffset reads back content from all offsets.
func (s *DriverSuite) TestReaderWithOffset() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	chunkSize := int64(32)

	contentsChunk1 := randomContents(chunkSize)
	contentsChunk2 := randomContents(chunkSize)
	contentsChunk3 := randomContents(chunkSize)

	full := append(append(append([]byte{}, contentsChunk1...), contentsChunk2...), contentsChunk3...)
	err := s.StorageDriver.PutContent(s.ctx, filename, full)
	s.Require().NoError(err)

	reader, err := s.StorageDriver.Reader(s.ctx, filename, 0)
	s.Require().NoError(err)
	defer reader.Close()

	readContents, err := io.ReadAll(reader)
	s.Require().NoError(err)
	s.Require().Equal(full, readContents)

	reader, err = s.StorageDriver.Reader(s.ctx, filename, chunkSize)
	s.Require().NoError(err)
	defer reader.Close()

	readContents, err = io.ReadAll(reader)
	s.Require().NoError(err)
	s.Require().Equal(append(append([]byte{}, contentsChunk2...), contentsChunk3...), readContents)

	reader, err = s.StorageDriver.Reader(s.ctx, filename, chunkSize*3)
	s.Require().NoError(err)
	defer reader.Close()

	readContents, err = io.ReadAll(reader)
	s.Require().NoError(err)
	s.Require().Empty(readContents)

	_, err = s.StorageDriver.Reader(s.ctx, filename, -1)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.InvalidOffsetError)))
}

// TestList checks the returned list of keys after populating a directory
// tree.
func (s *DriverSuite) TestList() {
	rootDirectory := "/" + randomFilename(int64(8+rand.Intn(8)))
	defer s.deletePath(rootDirectory)

	parentDirectory := rootDirectory + "/" + randomFilename(int64(8+rand.Intn(8)))
	childFiles := make([]string, 10)
	for i := range childFiles {
		childFile := parentDirectory + "/" + randomFilename(int64(8+rand.Intn(8)))
		childFiles[i] = childFile
		err := s.StorageDriver.PutContent(s.ctx, childFile, randomContents(8))
		s.Require().NoError(err)
	}
	sort.Strings(childFiles)

	keys, err := s.StorageDriver.List(s.ctx, rootDirectory)
	s.Require().NoError(err)
	s.Require().Equal([]string{parentDirectory}, keys)

	keys, err = s.StorageDriver.List(s.ctx, parentDirectory)
	s.Require().NoError(err)
	sort.Strings(keys)
	s.Require().Equal(childFiles, keys)

	_, err = s.StorageDriver.List(s.ctx, "/nonexistent-directory")
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
}

// TestMove checks that a moved object no longer exists at the source path
// and does exist at the destination.
func (s *DriverSuite) TestMove() {
	contents := randomContents(32)
	sourcePath := randomPath(32)
	destPath := randomPath(32)

	defer s.deletePath(firstPart(sourcePath))
	defer s.deletePath(firstPart(destPath))

	err := s.StorageDriver.PutContent(s.ctx, sourcePath, contents)
	s.Require().NoError(err)

	err = s.StorageDriver.Move(s.ctx, sourcePath, destPath)
	s.Require().NoError(err)

	received, err := s.StorageDriver.GetContent(s.ctx, destPath)
	s.Require().NoError(err)
	s.Require().Equal(contents, received)

	_, err = s.StorageDriver.GetContent(s.ctx, sourcePath)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
}

// TestMoveNonexistent checks that moving a nonexistent key fails.
func (s *DriverSuite) TestMoveNonexistent() {
	contents := randomContents(32)
	sourcePath := randomPath(32)
	destPath := randomPath(32)

	defer s.deletePath(firstPart(destPath))

	err := s.StorageDriver.PutContent(s.ctx, destPath, contents)
	s.Require().NoError(err)

	err = s.StorageDriver.Move(s.ctx, sourcePath, destPath)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))

	received, err := s.StorageDriver.GetContent(s.ctx, destPath)
	s.Require().NoError(err)
	s.Require().Equal(contents, received)
}

// TestDelete checks that a deleted object is no longer readable.
func (s *DriverSuite) TestDelete() {
	filename := randomPath(32)
	defer s.deletePath(firstPart(filename))

	err := s.StorageDriver.PutContent(s.ctx, filename, randomContents(32))
	s.Require().NoError(err)

	err = s.StorageDriver.Delete(s.ctx, filename)
	s.Require().NoError(err)

	_, err = s.StorageDriver.GetContent(s.ctx, filename)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))

	err = s.StorageDriver.Delete(s.ctx, filename)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
}

// TestDeleteFolder checks that deleting a directory removes everything
// under it.
func (s *DriverSuite) TestDeleteFolder() {
	dirname := randomPath(16)
	filename1 := randomPath(16)
	filename2 := randomPath(16)
	defer s.deletePath(firstPart(dirname))

	err := s.StorageDriver.PutContent(s.ctx, path.Join(dirname, filename1), randomContents(32))
	s.Require().NoError(err)
	err = s.StorageDriver.PutContent(s.ctx, path.Join(dirname, filename2), randomContents(32))
	s.Require().NoError(err)

	err = s.StorageDriver.Delete(s.ctx, dirname)
	s.Require().NoError(err)

	for _, filename := range []string{filename1, filename2} {
		_, err = s.StorageDriver.GetContent(s.ctx, path.Join(dirname, filename))
		s.Require().Error(err)
		s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
	}
}

// TestLink checks that aliased content stays readable after either name is
// deleted. Drivers without aliasing support are skipped.
func (s *DriverSuite) TestLink() {
	contents := randomContents(32)
	sourcePath := randomPath(32)
	destPath := randomPath(32)

	defer s.deletePath(firstPart(sourcePath))
	defer s.deletePath(firstPart(destPath))

	err := s.StorageDriver.PutContent(s.ctx, sourcePath, contents)
	s.Require().NoError(err)

	err = s.StorageDriver.Link(s.ctx, sourcePath, destPath)
	if errors.Is(err, storagedriver.ErrUnsupportedMethod) {
		s.T().Skip("driver does not support linking")
	}
	s.Require().NoError(err)

	received, err := s.StorageDriver.GetContent(s.ctx, destPath)
	s.Require().NoError(err)
	s.Require().Equal(contents, received)

	err = s.StorageDriver.Delete(s.ctx, sourcePath)
	s.Require().NoError(err)

	received, err = s.StorageDriver.GetContent(s.ctx, destPath)
	s.Require().NoError(err)
	s.Require().Equal(contents, received)
}

// TestLinkNonexistent checks that linking a missing source fails.
func (s *DriverSuite) TestLinkNonexistent() {
	sourcePath := randomPath(32)
	destPath := randomPath(32)

	err := s.StorageDriver.Link(s.ctx, sourcePath, destPath)
	if errors.Is(err, storagedriver.ErrUnsupportedMethod) {
		s.T().Skip("driver does not support linking")
	}
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))
}

// TestStatCall runs verifies the various statted fields.
func (s *DriverSuite) TestStatCall() {
	content := randomContents(4096)
	dirPath := randomPath(16)
	fileName := randomFilename(8)
	filePath := path.Join(dirPath, fileName)

	defer s.deletePath(firstPart(dirPath))

	_, err := s.StorageDriver.Stat(s.ctx, filePath)
	s.Require().Error(err)
	s.Require().True(errors.As(err, new(storagedriver.PathNotFoundError)))

	err = s.StorageDriver.PutContent(s.ctx, filePath, content)
	s.Require().NoError(err)

	fi, err := s.StorageDriver.Stat(s.ctx, filePath)
	s.Require().NoError(err)
	s.Require().Equal(filePath, fi.Path())
	s.Require().Equal(int64(len(content)), fi.Size())
	s.Require().False(fi.IsDir())
	s.Require().False(fi.ModTime().IsZero())

	fi, err = s.StorageDriver.Stat(s.ctx, dirPath)
	s.Require().NoError(err)
	s.Require().Equal(dirPath, fi.Path())
	s.Require().True(fi.IsDir())
}

// TestWalk visits every file under a populated tree.
func (s *DriverSuite) TestWalk() {
	rootDirectory := "/" + randomFilename(8)
	defer s.deletePath(rootDirectory)

	wantFiles := map[string]bool{}
	for i := 0; i < 5; i++ {
		filePath := path.Join(rootDirectory, randomFilename(8), randomFilename(8))
		err := s.StorageDriver.PutContent(s.ctx, filePath, randomContents(16))
		s.Require().NoError(err)
		wantFiles[filePath] = false
	}

	err := s.StorageDriver.Walk(s.ctx, rootDirectory, func(fileInfo storagedriver.FileInfo) error {
		if !fileInfo.IsDir() {
			seen, ok := wantFiles[fileInfo.Path()]
			s.Require().True(ok, "walked unexpected file %s", fileInfo.Path())
			s.Require().False(seen, "walked %s twice", fileInfo.Path())
			wantFiles[fileInfo.Path()] = true
		}
		return nil
	})
	s.Require().NoError(err)

	for filePath, seen := range wantFiles {
		s.Require().True(seen, "walk missed file %s", filePath)
	}
}

func (s *DriverSuite) deletePath(path string) {
	err := s.StorageDriver.Delete(s.ctx, path)
	if err != nil && !errors.As(err, new(storagedriver.PathNotFoundError)) {
		s.Require().NoError(err)
	}
}

var (
	filenameChars  = []byte("abcdefghijklmnopqrstuvwxyz0123456789")
	separatorChars = []byte("._-")
)

func randomPath(length int64) string {
	path := "/"
	for int64(len(path)) < length {
		chunkLength := rand.Int63n(length-int64(len(path))) + 1
		chunk := randomFilename(chunkLength)
		path += chunk
		remaining := length - int64(len(path))
		if remaining == 1 {
			path += randomFilename(1)
		} else if remaining > 1 {
			path += "/"
		}
	}
	return path
}

func randomFilename(length int64) string {
	b := make([]byte, length)
	wasSeparator := true
	for i := range b {
		if !wasSeparator && i < len(b)-1 && rand.Intn(4) == 0 {
			b[i] = separatorChars[rand.Intn(len(separatorChars))]
			wasSeparator = true
		} else {
			b[i] = filenameChars[rand.Intn(len(filenameChars))]
			wasSeparator = false
		}
	}
	return string(b)
}

func randomContents(length int64) []byte {
	b := make([]byte, length)
	if _, err := cryptorand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// firstPart returns the first component of the given path.
func firstPart(filePath string) string {
	if filePath == "" {
		return "/"
	}
	for {
		if filePath[len(filePath)-1] == '/' {
			filePath = filePath[:len(filePath)-1]
		}

		dir, file := path.Split(filePath)
		if dir == "" && file == "" {
			return "/"
		}
		if dir == "/" || dir == "" {
			return "/" + file
		}
		if file == "" {
			return dir
		}
		filePath = dir
	}
}
