package testdata_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/storage"
	"codearena/internal/judge/testdata"
	appErr "codearena/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

const packBucket = "datapacks"

type tarEntry struct {
	name string
	body string
	dir  bool
}

func buildPack(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("tar write: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func samplePack(t *testing.T) []byte {
	return buildPack(t, []tarEntry{
		{name: "testCases/", dir: true},
		{name: "testCases/1.in", body: "1 1\n"},
		{name: "testCases/2.in", body: "2 2\n"},
		{name: "outputs/1.out", body: "2\n"},
		{name: "outputs/2.out", body: "4\n"},
	})
}

func newLock(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func newPackStorage(t *testing.T, packs map[string][]byte) *storage.LocalStorage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	for key, data := range packs {
		if err := s.PutObject(context.Background(), packBucket, key, bytes.NewReader(data), int64(len(data)), "application/zstd"); err != nil {
			t.Fatalf("put pack: %v", err)
		}
	}
	return s
}

func TestParsePackRef(t *testing.T) {
	t.Parallel()

	ref, err := testdata.ParsePackRef("pack://packs/7.tar.zst#ABCD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Key != "packs/7.tar.zst" || ref.SHA256 != "abcd" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.String() != "pack://packs/7.tar.zst#abcd" {
		t.Fatalf("unexpected string %q", ref.String())
	}
	for _, bad := range []string{"packs/7.tar.zst", "pack://", "pack://#abcd"} {
		if _, err := testdata.ParsePackRef(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPackLoaderExtractsAndCaches(t *testing.T) {
	data := samplePack(t)
	sum := sha256.Sum256(data)
	s := newPackStorage(t, map[string][]byte{"packs/7.tar.zst": data})
	lock, _ := newLock(t)

	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{RootDir: t.TempDir(), Bucket: packBucket}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}
	loader := testdata.PackLoader{Cache: pc}
	ref := "pack://packs/7.tar.zst#" + hex.EncodeToString(sum[:])

	assets, err := loader.Load(context.Background(), ref, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets.Inputs) != 2 || assets.Inputs["2"] != "2 2\n" {
		t.Fatalf("unexpected inputs %v", assets.Inputs)
	}
	if assets.Outputs["1"] != "2\n" {
		t.Fatalf("unexpected outputs %v", assets.Outputs)
	}

	// Second load is served locally even when the object is gone.
	if err := s.RemoveObject(context.Background(), packBucket, "packs/7.tar.zst"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := loader.Load(context.Background(), ref, ""); err != nil {
		t.Fatalf("expected cached load, got %v", err)
	}
	if pc.Len() != 1 {
		t.Fatalf("expected 1 cached pack, got %d", pc.Len())
	}
}

func TestPackLoaderHashMismatch(t *testing.T) {
	s := newPackStorage(t, map[string][]byte{"packs/7.tar.zst": samplePack(t)})
	lock, mr := newLock(t)
	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{RootDir: t.TempDir(), Bucket: packBucket}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}

	_, err = testdata.PackLoader{Cache: pc}.Load(context.Background(), "pack://packs/7.tar.zst#deadbeef", "")
	if !appErr.Is(err, appErr.AssetLoadFailed) || !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected asset load failure caused by hash mismatch, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected lock released, got keys %v", mr.Keys())
	}
}

func TestPackLoaderRejectsEscapingEntries(t *testing.T) {
	data := buildPack(t, []tarEntry{{name: "../evil.in", body: "x"}})
	s := newPackStorage(t, map[string][]byte{"packs/evil.tar.zst": data})
	lock, _ := newLock(t)
	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{RootDir: t.TempDir(), Bucket: packBucket}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}

	_, err = testdata.PackLoader{Cache: pc}.Load(context.Background(), "pack://packs/evil.tar.zst", "")
	if !appErr.Is(err, appErr.AssetLoadFailed) {
		t.Fatalf("expected AssetLoadFailed, got %v", err)
	}
}

func TestPackLoaderWaitsForOtherHolder(t *testing.T) {
	s := newPackStorage(t, map[string][]byte{"packs/7.tar.zst": samplePack(t)})
	lock, mr := newLock(t)
	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{
		RootDir:  t.TempDir(),
		Bucket:   packBucket,
		LockWait: 300 * time.Millisecond,
	}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}

	// Another process holds the extraction lock and never finishes.
	other, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer other.Close()
	ref, _ := testdata.ParsePackRef("pack://packs/7.tar.zst")
	if ok, err := other.TryLock(context.Background(), testdata.PackLockKey(ref), time.Minute); err != nil || !ok {
		t.Fatalf("expected to take lock, got %v %v", ok, err)
	}

	_, err = testdata.PackLoader{Cache: pc}.Load(context.Background(), ref.String(), "")
	if !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("expected wait timeout, got %v", err)
	}
}

func TestPackCacheEvictsLeastRecentlyUsed(t *testing.T) {
	s := newPackStorage(t, map[string][]byte{
		"packs/1.tar.zst": samplePack(t),
		"packs/2.tar.zst": samplePack(t),
		"packs/3.tar.zst": samplePack(t),
	})
	lock, _ := newLock(t)
	root := t.TempDir()
	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{RootDir: root, Bucket: packBucket, MaxEntries: 2}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}

	ctx := context.Background()
	var dirs []string
	for _, key := range []string{"packs/1.tar.zst", "packs/2.tar.zst", "packs/3.tar.zst"} {
		dir, release, err := pc.Get(ctx, testdata.PackRef{Key: key})
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		release()
		dirs = append(dirs, dir)
	}
	if pc.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", pc.Len())
	}
	if _, err := os.Stat(dirs[0]); !os.IsNotExist(err) {
		t.Fatalf("expected oldest pack dir removed, got %v", err)
	}
	if _, err := os.Stat(dirs[2]); err != nil {
		t.Fatalf("expected newest pack dir kept, got %v", err)
	}
}

func TestPackCacheKeepsHeldPacks(t *testing.T) {
	s := newPackStorage(t, map[string][]byte{
		"packs/1.tar.zst": samplePack(t),
		"packs/2.tar.zst": samplePack(t),
	})
	lock, _ := newLock(t)
	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{
		RootDir:    t.TempDir(),
		Bucket:     packBucket,
		MaxEntries: 1,
		TTL:        time.Millisecond,
	}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}

	ctx := context.Background()
	held, release, err := pc.Get(ctx, testdata.PackRef{Key: "packs/1.tar.zst"})
	if err != nil {
		t.Fatalf("get held pack: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Expired but held: served from the same directory, not re-extracted.
	again, releaseAgain, err := pc.Get(ctx, testdata.PackRef{Key: "packs/1.tar.zst"})
	if err != nil {
		t.Fatalf("get expired held pack: %v", err)
	}
	releaseAgain()
	if again != held {
		t.Fatalf("expected same dir, got %s and %s", held, again)
	}

	// Over the entry limit: the unheld pack goes, the held one stays on disk.
	other, releaseOther, err := pc.Get(ctx, testdata.PackRef{Key: "packs/2.tar.zst"})
	if err != nil {
		t.Fatalf("get second pack: %v", err)
	}
	releaseOther()
	for _, sub := range []string{testdata.PackInputsDir, testdata.PackOutputsDir} {
		if _, err := os.Stat(filepath.Join(held, sub)); err != nil {
			t.Fatalf("expected held pack intact, %s: %v", sub, err)
		}
	}
	if _, err := os.Stat(other); !os.IsNotExist(err) {
		t.Fatalf("expected unheld pack evicted, got %v", err)
	}

	release()
	release()
	_, releaseOther, err = pc.Get(ctx, testdata.PackRef{Key: "packs/2.tar.zst"})
	if err != nil {
		t.Fatalf("get second pack again: %v", err)
	}
	releaseOther()
	if pc.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", pc.Len())
	}
	if _, err := os.Stat(held); !os.IsNotExist(err) {
		t.Fatalf("expected released pack evicted, got %v", err)
	}
}

func TestPackLoaderRequiresOutputs(t *testing.T) {
	data := buildPack(t, []tarEntry{
		{name: "testCases/1.in", body: "1\n"},
	})
	s := newPackStorage(t, map[string][]byte{"packs/half.tar.zst": data})
	lock, _ := newLock(t)
	root := t.TempDir()
	pc, err := testdata.NewPackCache(testdata.PackCacheConfig{RootDir: root, Bucket: packBucket}, s, lock)
	if err != nil {
		t.Fatalf("new pack cache: %v", err)
	}

	_, err = testdata.PackLoader{Cache: pc}.Load(context.Background(), "pack://packs/half.tar.zst", "")
	if !appErr.Is(err, appErr.AssetLoadFailed) {
		t.Fatalf("expected AssetLoadFailed, got %v", err)
	}
	left, _ := os.ReadDir(root)
	if len(left) != 0 {
		t.Fatalf("expected no directories left behind, got %d", len(left))
	}
}
