package testdata

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/storage"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	packMetaFile      = "pack.json"
	packTempFile      = "pack.tmp"
	packStagingSuffix = ".staging-"
	packLockPrefix    = "codearena:datapack:lock:"
	maxPackAttempts   = 3

	// Directory names inside an extracted pack.
	PackInputsDir  = "testCases"
	PackOutputsDir = "outputs"
)

// PackRef identifies a tar.zst data pack in object storage. SHA256 is optional;
// when set the downloaded pack must match it.
type PackRef struct {
	Key    string
	SHA256 string
}

// ParsePackRef parses "pack://<key>" or "pack://<key>#<sha256>".
func ParsePackRef(ref string) (PackRef, error) {
	if !strings.HasPrefix(ref, PackScheme) {
		return PackRef{}, fmt.Errorf("not a pack ref: %q", ref)
	}
	body := strings.TrimPrefix(ref, PackScheme)
	key, hash, _ := strings.Cut(body, "#")
	key = strings.Trim(key, "/")
	if key == "" {
		return PackRef{}, fmt.Errorf("pack ref %q has no object key", ref)
	}
	return PackRef{Key: key, SHA256: strings.ToLower(hash)}, nil
}

func (r PackRef) String() string {
	if r.SHA256 == "" {
		return PackScheme + r.Key
	}
	return PackScheme + r.Key + "#" + r.SHA256
}

// CacheKey names the local directory and the extraction lock. The hash is part
// of it so a republished pack under the same key lands in a fresh directory.
func (r PackRef) CacheKey() string {
	sum := sha256.Sum256([]byte(r.Key + "#" + r.SHA256))
	return hex.EncodeToString(sum[:12])
}

// PackCacheConfig configures the local data pack cache.
type PackCacheConfig struct {
	RootDir    string        `yaml:"rootDir"`
	Bucket     string        `yaml:"bucket"`
	TTL        time.Duration `yaml:"ttl"`
	LockWait   time.Duration `yaml:"lockWait"`
	LockTTL    time.Duration `yaml:"lockTTL"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxBytes   int64         `yaml:"maxBytes"`
}

type packEntry struct {
	key       string
	path      string
	sizeBytes int64
	expiresAt time.Time
	// refs counts callers still reading the directory; held entries are never
	// expired or evicted.
	refs int
}

// PackCache downloads and extracts data packs into a local directory tree.
// A Redis lock keeps several judge processes sharing RootDir from extracting
// the same pack concurrently; entries are evicted LRU by count and total size.
// Packs are extracted into a staging directory and renamed into place, so a
// published directory is always complete.
type PackCache struct {
	cfg     PackCacheConfig
	storage storage.ObjectStorage
	lock    cache.LockOps

	mu        sync.Mutex
	entries   map[string]*packEntry
	lruKeys   []string
	totalSize int64
}

func NewPackCache(cfg PackCacheConfig, storageClient storage.ObjectStorage, lock cache.LockOps) (*PackCache, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("pack cache root is required")
	}
	if storageClient == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if lock == nil {
		return nil, fmt.Errorf("lock is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	return &PackCache{
		cfg:     cfg,
		storage: storageClient,
		lock:    lock,
		entries: make(map[string]*packEntry),
	}, nil
}

// PackLockKey is the Redis key guarding extraction of ref.
func PackLockKey(ref PackRef) string {
	return packLockPrefix + ref.CacheKey()
}

// Get returns the local directory holding the extracted pack. The directory
// stays on disk until release is called; release is safe to call twice.
func (c *PackCache) Get(ctx context.Context, ref PackRef) (dir string, release func(), err error) {
	key := ref.CacheKey()
	path := filepath.Join(c.cfg.RootDir, key)

	for attempt := 0; attempt < maxPackAttempts; attempt++ {
		if c.acquire(key, path, ref) {
			var once sync.Once
			return path, func() { once.Do(func() { c.release(key) }) }, nil
		}
		if err := c.fetchAndExtract(ctx, ref, path); err != nil {
			return "", nil, err
		}
	}
	return "", nil, appErr.New(appErr.CacheError).WithMessage("data pack evicted while loading").
		WithDetail("pack", ref.Key)
}

// Len returns the number of cached packs.
func (c *PackCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// acquire takes a reference on the cached pack, registering a complete
// directory found on disk. It reports false when the pack must be fetched.
func (c *PackCache) acquire(key, path string, ref PackRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if entry, ok := c.entries[key]; ok {
		if entry.refs == 0 && now.After(entry.expiresAt) {
			c.removeEntryLocked(key)
			return false
		}
		entry.refs++
		entry.expiresAt = now.Add(c.cfg.TTL)
		c.touchLocked(key)
		return true
	}
	if !c.checkDisk(path, ref) {
		return false
	}
	size := dirSize(path)
	c.entries[key] = &packEntry{
		key:       key,
		path:      path,
		sizeBytes: size,
		expiresAt: now.Add(c.cfg.TTL),
		refs:      1,
	}
	c.totalSize += size
	c.touchLocked(key)
	c.evictLocked()
	return true
}

func (c *PackCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || entry.refs == 0 {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		c.evictLocked()
	}
}

func (c *PackCache) checkDisk(path string, ref PackRef) bool {
	data, err := os.ReadFile(filepath.Join(path, packMetaFile))
	if err != nil {
		return false
	}
	var stored PackRef
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	if stored.Key != ref.Key || stored.SHA256 != ref.SHA256 {
		return false
	}
	for _, sub := range []string{PackInputsDir, PackOutputsDir} {
		if info, err := os.Stat(filepath.Join(path, sub)); err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func (c *PackCache) fetchAndExtract(ctx context.Context, ref PackRef, path string) error {
	lockKey := PackLockKey(ref)
	locked, err := c.lock.TryLock(ctx, lockKey, c.cfg.LockTTL)
	if err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "acquire data pack lock failed")
	}
	if !locked {
		return c.waitForPack(ctx, ref, path)
	}
	defer func() {
		_ = c.lock.Unlock(context.WithoutCancel(ctx), lockKey)
	}()

	if c.checkDisk(path, ref) {
		return nil
	}

	if err := os.MkdirAll(c.cfg.RootDir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create cache root failed")
	}
	staging, err := os.MkdirTemp(c.cfg.RootDir, filepath.Base(path)+packStagingSuffix)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create staging dir failed")
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	tempPath := filepath.Join(staging, packTempFile)
	if err := c.download(ctx, ref, tempPath); err != nil {
		return err
	}
	if err := extractPack(tempPath, staging); err != nil {
		return err
	}
	_ = os.Remove(tempPath)

	meta, _ := json.Marshal(ref)
	if err := os.WriteFile(filepath.Join(staging, packMetaFile), meta, 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write pack meta failed")
	}
	if !c.checkDisk(staging, ref) {
		return appErr.New(appErr.CacheError).WithMessage("data pack has no test cases or outputs").
			WithDetail("pack", ref.Key)
	}

	// Whatever sits at path failed checkDisk, so no reader holds it.
	if err := os.RemoveAll(path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup cache dir failed")
	}
	if err := os.Rename(staging, path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "publish data pack failed")
	}
	logger.Info(ctx, "data pack extracted", zap.String("pack", ref.Key), zap.String("dir", path))
	return nil
}

func (c *PackCache) waitForPack(ctx context.Context, ref PackRef, path string) error {
	deadline := time.Now().Add(c.cfg.LockWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.checkDisk(path, ref) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for data pack timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *PackCache) download(ctx context.Context, ref PackRef, dstPath string) error {
	reader, err := c.storage.GetObject(ctx, c.cfg.Bucket, ref.Key)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "download data pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create data pack file failed")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(file, io.TeeReader(reader, hasher)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write data pack file failed")
	}
	if ref.SHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, ref.SHA256) {
			return appErr.New(appErr.CacheError).WithMessage("data pack hash mismatch").
				WithDetail("expected", ref.SHA256).
				WithDetail("actual", actual)
		}
	}
	return nil
}

func extractPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open data pack failed")
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create zstd reader failed")
	}
	defer zr.Close()

	root := filepath.Clean(dstDir) + string(filepath.Separator)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return appErr.New(appErr.CacheError).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(dstDir, name)
		if !strings.HasPrefix(target, root) {
			return appErr.New(appErr.CacheError).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, fs.FileMode(hdr.Mode).Perm()|0600); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create file failed")
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return appErr.Wrapf(err, appErr.CacheError, "write file failed")
	}
	return out.Close()
}

func (c *PackCache) touchLocked(key string) {
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, key)
}

// evictLocked drops the least recently used entries that nobody holds until
// the cache fits its limits.
func (c *PackCache) evictLocked() {
	for _, key := range slices.Clone(c.lruKeys) {
		overCount := len(c.entries) > c.cfg.MaxEntries
		overSize := c.cfg.MaxBytes > 0 && c.totalSize > c.cfg.MaxBytes
		if !overCount && !overSize {
			return
		}
		if entry := c.entries[key]; entry != nil && entry.refs == 0 {
			c.removeEntryLocked(key)
		}
	}
}

func (c *PackCache) removeEntryLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.lruKeys {
		if k == key {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.totalSize -= entry.sizeBytes
	_ = os.RemoveAll(entry.path)
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// PackLoader loads test cases from a data pack. The outputs ref is ignored:
// both directories come from the same pack.
type PackLoader struct {
	Cache *PackCache
	FS    FSLoader
}

func (l PackLoader) Load(ctx context.Context, inputsRef, _ string) (*Assets, error) {
	ref, err := ParsePackRef(inputsRef)
	if err != nil {
		return nil, loadError(err, inputsRef)
	}
	dir, release, err := l.Cache.Get(ctx, ref)
	if err != nil {
		return nil, loadError(err, inputsRef)
	}
	defer release()
	return l.FS.Load(ctx, filepath.Join(dir, PackInputsDir), filepath.Join(dir, PackOutputsDir))
}
