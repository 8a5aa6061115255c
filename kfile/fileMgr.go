package kfile

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pingcap/errors"
)

// FileMgr owns the directory holding the transaction log, undo segments and
// their side files. Write handles are cached per file name; readers always
// get a fresh handle so they never disturb the writer's position.
type FileMgr struct {
	dbDirectory string
	isNew       bool
	openFiles   map[string]*os.File
	mutex       sync.Mutex
}

// NewFileMgr creates a new FileMgr instance rooted at dbDirectory, creating
// the directory when needed and removing stale *.tmp files.
func NewFileMgr(dbDirectory string) (*FileMgr, error) {
	fm := &FileMgr{
		dbDirectory: dbDirectory,
		openFiles:   make(map[string]*os.File),
	}

	info, err := os.Stat(dbDirectory)
	if os.IsNotExist(err) {
		fm.isNew = true
		if err = os.MkdirAll(dbDirectory, 0o755); err != nil {
			return nil, errors.Annotatef(err, "failed to create directory %s", dbDirectory)
		}
	} else if err != nil {
		return nil, errors.Annotatef(err, "failed to access directory %s", dbDirectory)
	} else if !info.IsDir() {
		return nil, errors.Errorf("path %s is not a directory", dbDirectory)
	}

	files, err := os.ReadDir(dbDirectory)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to list directory %s", dbDirectory)
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".tmp" {
			tempPath := filepath.Join(dbDirectory, file.Name())
			if err := os.Remove(tempPath); err != nil {
				return nil, errors.Annotatef(err, "failed to remove temporary file %s", tempPath)
			}
		}
	}

	return fm, nil
}

// Dir returns the managed directory.
func (fm *FileMgr) Dir() string {
	return fm.dbDirectory
}

// Path returns the absolute location of filename inside the managed directory.
func (fm *FileMgr) Path(filename string) string {
	return filepath.Join(fm.dbDirectory, filename)
}

// OpenAppend returns the cached write handle for filename, positioned at the
// end of the file. The file is created if it does not exist.
func (fm *FileMgr) OpenAppend(filename string) (*os.File, error) {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()

	if f, exists := fm.openFiles[filename]; exists {
		return f, nil
	}

	filePath := fm.Path(filename)
	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open file %s", filePath)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "failed to seek to end of %s", filePath)
	}

	fm.openFiles[filename] = f
	return f, nil
}

// OpenReader opens an independent read-only handle. The caller closes it.
func (fm *FileMgr) OpenReader(filename string) (*os.File, error) {
	f, err := os.Open(fm.Path(filename))
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s for reading", filename)
	}
	return f, nil
}

// Length returns the size in bytes of filename, zero if it does not exist.
func (fm *FileMgr) Length(filename string) (int64, error) {
	stat, err := os.Stat(fm.Path(filename))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Annotatef(err, "failed to stat file %s", filename)
	}
	return stat.Size(), nil
}

func (fm *FileMgr) Exists(filename string) bool {
	_, err := os.Stat(fm.Path(filename))
	return err == nil
}

// Rename closes any cached handles of both names and renames the file.
func (fm *FileMgr) Rename(oldName, newName string) error {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()

	if err := fm.closeLocked(oldName); err != nil {
		return err
	}
	if err := fm.closeLocked(newName); err != nil {
		return err
	}
	if err := os.Rename(fm.Path(oldName), fm.Path(newName)); err != nil {
		return errors.Annotatef(err, "failed to rename %s to %s", oldName, newName)
	}
	return fm.syncDir()
}

// Remove closes the cached handle of filename, if any, and deletes the file.
// Removing a missing file is not an error.
func (fm *FileMgr) Remove(filename string) error {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()

	if err := fm.closeLocked(filename); err != nil {
		return err
	}
	if err := os.Remove(fm.Path(filename)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Annotatef(err, "failed to remove %s", filename)
	}
	return fm.syncDir()
}

// Truncate cuts filename down to size and syncs it. The cached write handle
// is dropped without syncing, so the next OpenAppend starts at the new end.
// Truncating a missing file to zero is not an error.
func (fm *FileMgr) Truncate(filename string, size int64) error {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()

	if f, exists := fm.openFiles[filename]; exists {
		delete(fm.openFiles, filename)
		f.Close()
	}
	path := fm.Path(filename)
	if err := os.Truncate(path, size); err != nil {
		if os.IsNotExist(err) && size == 0 {
			return nil
		}
		return errors.Annotatef(err, "failed to truncate %s to %d", filename, size)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Annotatef(err, "failed to open %s", filename)
	}
	err = f.Sync()
	f.Close()
	if err != nil {
		return errors.Annotatef(err, "failed to sync %s", filename)
	}
	return nil
}

// syncDir makes renames and removals in the directory durable.
func (fm *FileMgr) syncDir() error {
	d, err := os.Open(fm.dbDirectory)
	if err != nil {
		return errors.Annotatef(err, "failed to open directory %s", fm.dbDirectory)
	}
	err = d.Sync()
	closeErr := d.Close()
	if err != nil {
		return errors.Annotatef(err, "failed to sync directory %s", fm.dbDirectory)
	}
	return errors.Trace(closeErr)
}

// CloseFile syncs and closes the cached write handle of filename.
func (fm *FileMgr) CloseFile(filename string) error {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()
	return fm.closeLocked(filename)
}

// closeLocked is a helper method that assumes the mutex is already locked.
func (fm *FileMgr) closeLocked(filename string) error {
	f, exists := fm.openFiles[filename]
	if !exists {
		return nil
	}
	delete(fm.openFiles, filename)
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Annotatef(err, "failed to sync %s", filename)
	}
	if err := f.Close(); err != nil {
		return errors.Annotatef(err, "failed to close %s", filename)
	}
	return nil
}

// List returns the names of the files matching pattern, sorted.
func (fm *FileMgr) List(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(fm.dbDirectory, pattern))
	if err != nil {
		return nil, errors.Annotatef(err, "bad pattern %q", pattern)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

// IsNew returns whether the directory was created by this FileMgr.
func (fm *FileMgr) IsNew() bool {
	return fm.isNew
}

// Close closes all open files managed by FileMgr.
func (fm *FileMgr) Close() error {
	fm.mutex.Lock()
	defer fm.mutex.Unlock()

	var firstErr error
	for filename := range fm.openFiles {
		if err := fm.closeLocked(filename); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
