package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/plot"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

// PlotCache stores rendered plots on disk, one file per distinct request.
type PlotCache struct {
	cacheDir   string
	maxEntries int
}

func NewPlotCache(cacheDir string, maxEntries int) (*PlotCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &PlotCache{
		cacheDir:   cacheDir,
		maxEntries: maxEntries,
	}, nil
}

// Key identifies a rendered plot. Two keys are equal iff they render identically.
type Key struct {
	Alpha  float64
	N      int
	Tail   stats.TailType
	Format plot.Format
	Width  int
	Height int
}

// KeyFor builds the key after applying option defaults, so unset and explicit
// default sizes share an entry.
func KeyFor(res stats.Result, opts plot.Options) Key {
	opts = opts.WithDefaults()
	return Key{
		Alpha:  res.Alpha,
		N:      res.SampleSize,
		Tail:   res.Tail,
		Format: opts.Format,
		Width:  opts.Width,
		Height: opts.Height,
	}
}

func (k Key) filename() string {
	raw := fmt.Sprintf("%s|%d|%g|%dx%d", k.Tail, k.N, k.Alpha, k.Width, k.Height)
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:8]) + "." + string(k.Format)
}

func (c *PlotCache) path(k Key) string {
	return filepath.Join(c.cacheDir, k.filename())
}

func (c *PlotCache) Get(k Key) ([]byte, bool) {
	data, err := os.ReadFile(c.path(k))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *PlotCache) Put(k Key, data []byte) error {
	path := c.path(k)
	tmp, err := os.CreateTemp(c.cacheDir, "plot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp plot: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("chmod temp plot: %w", err)
	}
	if n, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp plot: %w", err)
	} else if n < len(data) {
		return fmt.Errorf("write temp plot: short write")
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp plot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(path)
		if err := os.Rename(tmp.Name(), path); err != nil {
			return fmt.Errorf("rename plot: %w", err)
		}
	}
	return nil
}

// GetOrRender returns the cached plot for res, rendering and storing it on a miss.
// A failed store is not an error; the rendered bytes are still returned.
func (c *PlotCache) GetOrRender(res stats.Result, opts plot.Options) ([]byte, bool, error) {
	k := KeyFor(res, opts)
	if data, ok := c.Get(k); ok {
		return data, true, nil
	}

	data, err := plot.Bytes(res, opts)
	if err != nil {
		return nil, false, err
	}

	_ = c.Put(k, data)

	return data, false, nil
}

// Prune removes the least recently written plots beyond maxEntries.
// A non-positive maxEntries disables pruning.
func (c *PlotCache) Prune() (int, error) {
	if c.maxEntries <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	type plotFile struct {
		name    string
		modTime int64
	}
	var files []plotFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, plotFile{name: entry.Name(), modTime: info.ModTime().UnixNano()})
	}
	if len(files) <= c.maxEntries {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime == files[j].modTime {
			return files[i].name > files[j].name
		}
		return files[i].modTime > files[j].modTime
	})

	removed := 0
	for _, f := range files[c.maxEntries:] {
		if err := os.Remove(filepath.Join(c.cacheDir, f.name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", f.name, err)
		}
		removed++
	}
	return removed, nil
}

func (c *PlotCache) Clear() error {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.cacheDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (c *PlotCache) CacheDir() string {
	return c.cacheDir
}
