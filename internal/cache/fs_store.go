package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	entrySuffix = ".entry"
	createdFile = ".created"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 磁盘布局：
//
//	<StoragePath>/<cache name>/.created           # 创建时间，决定跨缓存查找顺序
//	<StoragePath>/<cache name>/<sha1(key)>.entry  # HTTP/1.1 报文形式的快照
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入；删除整个缓存时持有写锁，
// 防止后台写入把已删除的目录重新建出来。
type fileStorage struct {
	basePath string

	storesMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileStore struct {
	storage *fileStorage
	name    string
}

func (s *fileStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	dir := s.storeDir(name)
	marker := filepath.Join(dir, createdFile)
	if _, err := os.Stat(marker); err == nil {
		return &fileStore{storage: s, name: name}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(marker, []byte(stamp), 0o644); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fileStore{storage: s, name: name}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, nil
	}
	s.storesMu.RLock()
	defer s.storesMu.RUnlock()
	info, err := os.Stat(s.storeDir(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, nil
	}
	s.storesMu.Lock()
	defer s.storesMu.Unlock()
	dir := s.storeDir(name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStorage) Names(ctx context.Context) ([]string, error) {
	s.storesMu.RLock()
	defer s.storesMu.RUnlock()
	return s.namesLocked()
}

func (s *fileStorage) namesLocked() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	type named struct {
		name    string
		created int64
	}
	stores := make([]named, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, entry.Name(), createdFile))
		if err != nil {
			continue
		}
		created, _ := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		stores = append(stores, named{name: entry.Name(), created: created})
	}
	sort.SliceStable(stores, func(i, j int) bool {
		if stores[i].created == stores[j].created {
			return stores[i].name < stores[j].name
		}
		return stores[i].created < stores[j].created
	})
	names := make([]string, len(stores))
	for i, store := range stores {
		names[i] = store.name
	}
	return names, nil
}

func (s *fileStorage) Match(ctx context.Context, desc Descriptor) (Snapshot, error) {
	s.storesMu.RLock()
	defer s.storesMu.RUnlock()
	names, err := s.namesLocked()
	if err != nil {
		return Snapshot{}, err
	}
	for _, name := range names {
		snap, err := s.read(ctx, name, desc)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Snapshot{}, err
		}
	}
	return Snapshot{}, ErrNotFound
}

func (s *fileStorage) Close() error {
	return nil
}

func (s *fileStorage) read(ctx context.Context, name string, desc Descriptor) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	raw, err := os.ReadFile(s.entryPath(name, desc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	stored, snap, err := decodeEntry(raw)
	if err != nil {
		return Snapshot{}, err
	}
	if stored.Key() != desc.Key() {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStorage) storeDir(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *fileStorage) entryPath(name string, desc Descriptor) string {
	sum := sha1.Sum([]byte(desc.Key()))
	return filepath.Join(s.storeDir(name), hex.EncodeToString(sum[:])+entrySuffix)
}

func (f *fileStore) Name() string {
	return f.name
}

func (f *fileStore) Match(ctx context.Context, desc Descriptor) (Snapshot, error) {
	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()
	return f.storage.read(ctx, f.name, desc)
}

func (f *fileStore) Put(ctx context.Context, desc Descriptor, snap Snapshot) error {
	if !desc.Cacheable() {
		return ErrMethodNotCacheable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeEntry(desc, snap)
	if err != nil {
		return err
	}

	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()
	unlock := f.storage.lockEntry(f.name + "::" + desc.Key())
	defer unlock()

	dir := f.storage.storeDir(f.name)
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrStoreDeleted
		}
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, f.storage.entryPath(f.name, desc)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (f *fileStore) Keys(ctx context.Context) ([]Descriptor, error) {
	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()
	entries, err := os.ReadDir(f.storage.storeDir(f.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStoreDeleted
		}
		return nil, err
	}
	keys := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.storage.storeDir(f.name), entry.Name()))
		if err != nil {
			continue
		}
		desc, _, err := decodeEntry(raw)
		if err != nil {
			continue
		}
		keys = append(keys, desc)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key() < keys[j].Key() })
	return keys, nil
}
