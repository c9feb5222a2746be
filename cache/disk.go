package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/modelgate/cache/serializer"
	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/xerrors"
)

const (
	entryExt = ".entry"
	tempExt  = ".tmp"

	// 超过该时长的临时文件视为中断写入的残留
	staleTempAge = time.Hour
)

// DiskConfig L3 配置
type DiskConfig struct {
	// Dir 条目目录
	Dir string `mapstructure:"dir"`
	// MaxBytes 总大小上限，清理时从最旧的条目开始删除
	MaxBytes int64 `mapstructure:"max_bytes"`
	// CleanupInterval 后台清理周期，<= 0 时不启动后台清理
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DiskTier L3：每个条目一个文件，路径为 Dir/<h[0:2]>/<h>.entry，h = sha256(key)。
// 写入先落临时文件并 fsync，再 rename 覆盖，读者看不到写了一半的条目。
type DiskTier struct {
	cfg    DiskConfig
	codec  serializer.Serializer
	logger clog.Logger

	// 串行化写入、删除与清理；读取不加锁，依赖 rename 的原子性
	mu sync.Mutex

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewDiskTier 创建目录并按需启动后台清理
func NewDiskTier(cfg DiskConfig, codec serializer.Serializer, logger clog.Logger) (*DiskTier, error) {
	if cfg.Dir == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: disk dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create cache dir %s", cfg.Dir)
	}
	if logger == nil {
		logger = clog.Discard()
	}

	d := &DiskTier{
		cfg:    cfg,
		codec:  codec,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go d.cleanupLoop()
	} else {
		close(d.done)
	}
	return d, nil
}

func (d *DiskTier) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(d.cfg.Dir, h[:2], h+entryExt)
}

// Get 未命中返回 (nil, nil)；过期或损坏的文件被删除
func (d *DiskTier) Get(_ context.Context, key string, now time.Time) (*Entry, error) {
	p := d.path(key)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := d.codec.Unmarshal(data, &e); err != nil {
		d.remove(p)
		return nil, xerrors.Wrap(err, "decode disk entry")
	}
	if e.Key != key {
		return nil, nil
	}
	if e.Expired(now) {
		d.remove(p)
		return nil, nil
	}
	return &e, nil
}

// Set 原子地写入条目
func (d *DiskTier) Set(_ context.Context, e *Entry) error {
	data, err := d.codec.Marshal(e)
	if err != nil {
		return xerrors.Wrap(err, "encode disk entry")
	}

	p := d.path(e.Key)
	dir := filepath.Dir(p)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p)+".*"+tempExt)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete 删除条目，不存在时不报错
func (d *DiskTier) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := os.Remove(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// InvalidateTag 扫描目录，删除带有 tag 的条目
func (d *DiskTier) InvalidateTag(ctx context.Context, tag string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	err := d.walk(func(path string, _ fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var e Entry
		if err := d.codec.Unmarshal(data, &e); err != nil || !e.HasTag(tag) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

type diskFile struct {
	path    string
	size    int64
	modTime time.Time
}

// Cleanup 删除残留的临时文件，并在总大小超过 MaxBytes 时从最早写入的条目开始删除
func (d *DiskTier) Cleanup(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		files []diskFile
		total int64
		now   = time.Now()
	)
	err := filepath.WalkDir(d.cfg.Dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil || de.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if strings.HasSuffix(path, tempExt) {
			if now.Sub(info.ModTime()) > staleTempAge {
				_ = os.Remove(path)
			}
			return nil
		}
		if strings.HasSuffix(path, entryExt) {
			files = append(files, diskFile{path: path, size: info.Size(), modTime: info.ModTime()})
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if d.cfg.MaxBytes <= 0 || total <= d.cfg.MaxBytes {
		return 0, nil
	}

	slices.SortFunc(files, func(a, b diskFile) int { return a.modTime.Compare(b.modTime) })
	removed := 0
	for _, f := range files {
		if total <= d.cfg.MaxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

// Size 条目文件的总字节数
func (d *DiskTier) Size() (int64, error) {
	var total int64
	err := d.walk(func(_ string, info fs.FileInfo) error {
		total += info.Size()
		return nil
	})
	return total, err
}

// Close 停止后台清理
func (d *DiskTier) Close() error {
	d.once.Do(func() { close(d.stop) })
	<-d.done
	return nil
}

func (d *DiskTier) cleanupLoop() {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			removed, err := d.Cleanup(context.Background())
			if err != nil {
				d.logger.Warn("disk cache cleanup failed", clog.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Info("disk cache cleaned up", clog.Int("removed", removed))
			}
		}
	}
}

func (d *DiskTier) walk(fn func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(d.cfg.Dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil || de.IsDir() || !strings.HasSuffix(path, entryExt) {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		return fn(path, info)
	})
}

func (d *DiskTier) remove(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = os.Remove(path)
}
