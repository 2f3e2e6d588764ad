package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/sirupsen/logrus"
)

// DiskStorage implements Storage on top of a billy filesystem.
// Each generation is a directory; each entry a .bin file whose first line is its key.
type DiskStorage struct {
	fs billy.Filesystem
	mu sync.RWMutex
}

// NewDisk creates a disk storage rooted at cacheDir
func NewDisk(cacheDir string) *DiskStorage {
	return NewFilesystem(osfs.New(cacheDir))
}

// NewFilesystem creates a disk storage on an arbitrary billy filesystem
func NewFilesystem(fs billy.Filesystem) *DiskStorage {
	return &DiskStorage{fs: fs}
}

// Init ensures the cache directory exists
func (d *DiskStorage) Init() error {
	return d.fs.MkdirAll("/", 0755)
}

func generationDir(name string) string {
	if name == "." || name == ".." {
		return strings.ReplaceAll(name, ".", "%2E")
	}
	return url.PathEscape(name)
}

func (d *DiskStorage) Open(_ context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("generation name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := generationDir(name)
	if err := d.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create generation directory %s: %w", dir, err)
	}
	return &diskStore{storage: d, name: name, dir: dir}, nil
}

func (d *DiskStorage) Has(_ context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info, err := d.fs.Stat(generationDir(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (d *DiskStorage) Keys(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos, err := d.fs.ReadDir("/")
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		name, err := url.PathUnescape(info.Name())
		if err != nil {
			logrus.Warnf("Ignoring unexpected directory %s in cache folder", info.Name())
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *DiskStorage) Delete(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := generationDir(name)
	if _, err := d.fs.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := util.RemoveAll(d.fs, dir); err != nil {
		return false, fmt.Errorf("failed to remove generation %s: %w", name, err)
	}
	return true, nil
}

func (d *DiskStorage) Close() error {
	return nil
}

type diskStore struct {
	storage *DiskStorage
	name    string
	dir     string
}

func (s *diskStore) Name() string {
	return s.name
}

// entryPath builds dir/host/path/METHOD[_qhash].bin from a "METHOD URL" key
func (s *diskStore) entryPath(key string) string {
	method, rawURL, found := strings.Cut(key, " ")
	parsedURL, err := url.Parse(rawURL)
	if !found || err != nil || parsedURL.Host == "" || !safeSegment(parsedURL.Host) {
		hash := sha256.Sum256([]byte(key))
		return filepath.Join(s.dir, "_", hex.EncodeToString(hash[:])[:16]+".bin")
	}

	host := strings.TrimSuffix(strings.TrimSuffix(parsedURL.Host, ":80"), ":443")
	pathParts := []string{s.dir, host}

	// Dot segments must not leave the generation directory
	if cleaned := path.Clean("/" + parsedURL.Path); cleaned != "/" {
		pathParts = append(pathParts, strings.TrimPrefix(cleaned, "/"))
	}

	filename := method
	if parsedURL.RawQuery != "" {
		hash := sha256.Sum256([]byte(parsedURL.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:8]
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)
	return filepath.Join(pathParts...)
}

func safeSegment(s string) bool {
	return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (s *diskStore) Get(_ context.Context, key string) ([]byte, error) {
	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()

	data, err := util.ReadFile(s.storage.fs, s.entryPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	storedKey, value, ok := bytes.Cut(data, []byte("\n"))
	if !ok || string(storedKey) != key {
		// Another key maps to the same file
		return nil, nil
	}
	return value, nil
}

func (s *diskStore) Set(_ context.Context, key string, value []byte) error {
	if strings.Contains(key, "\n") {
		return fmt.Errorf("invalid cache key %q", key)
	}

	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()

	// The generation root is only created by Open; a late write must not bring it back
	if _, err := s.storage.fs.Stat(s.dir); os.IsNotExist(err) {
		return ErrGenerationDeleted
	}

	cachePath := s.entryPath(key)
	dir := filepath.Dir(cachePath)
	if err := s.storage.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write to a temp file then rename, so readers never see a partial entry
	tmp, err := s.storage.fs.TempFile(dir, ".entry-")
	if err != nil {
		return err
	}
	if err := writeEntry(tmp, key, value); err != nil {
		_ = s.storage.fs.Remove(tmp.Name())
		return err
	}
	if err := s.storage.fs.Rename(tmp.Name(), cachePath); err != nil {
		_ = s.storage.fs.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached entry: %s", cachePath)
	return nil
}

func writeEntry(f billy.File, key string, value []byte) error {
	_, err := io.WriteString(f, key+"\n")
	if err == nil {
		_, err = f.Write(value)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *diskStore) Keys(_ context.Context) ([]string, error) {
	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()

	var keys []string
	err := util.Walk(s.storage.fs, s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".bin") {
			return nil
		}
		data, err := util.ReadFile(s.storage.fs, path)
		if err != nil {
			return err
		}
		if key, _, ok := bytes.Cut(data, []byte("\n")); ok {
			keys = append(keys, string(key))
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of %s: %w", s.name, err)
	}
	sort.Strings(keys)
	return keys, nil
}
