package matcher

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
)

// LoadTemplate reads and decodes a PNG or JPEG template.
func LoadTemplate(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // template paths come from scripts
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrTemplate, path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s is empty", ErrTemplate, path)
	}
	return img, nil
}

// Cache holds decoded templates keyed by path. Concurrent misses for the
// same path share one load.
type Cache struct {
	mu    sync.RWMutex
	items map[string]image.Image
	group singleflight.Group
}

// NewCache creates a template cache.
//
// Returns:
//   - *Cache: empty; templates load on first Get and stay until Invalidate
func NewCache() *Cache {
	return &Cache{items: make(map[string]image.Image)}
}

// Get returns the template at path, loading it on first use.
func (c *Cache) Get(path string) (image.Image, error) {
	c.mu.RLock()
	img, ok := c.items[path]
	c.mu.RUnlock()
	if ok {
		return img, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		img, err := LoadTemplate(path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[path] = img
		c.mu.Unlock()
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil //nolint:forcetypeassert // only images are stored
}

// Invalidate drops path from the cache.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.items, path)
	c.mu.Unlock()
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Metrics receives per-evaluation scores. *influxdb.Client satisfies it.
type Metrics interface {
	WriteMatchScore(template string, score float64, found bool, scale float64)
}

// Matcher binds Match to the matching config and a template cache.
type Matcher struct {
	cfg     config.MatchingConfig
	cache   *Cache
	metrics Metrics
}

// New creates a template matcher.
//
// Parameters:
//   - cfg: confidence threshold, grayscale mode, search scales and the
//     templates_dir that relative template paths resolve against
//
// Returns:
//   - *Matcher: with an empty template cache and no metrics sink
func New(cfg config.MatchingConfig) *Matcher {
	return &Matcher{cfg: cfg, cache: NewCache()}
}

// SetMetrics attaches a metrics sink. Nil disables metrics.
func (m *Matcher) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// DefaultThreshold returns the configured confidence threshold.
func (m *Matcher) DefaultThreshold() float64 {
	return m.cfg.ConfidenceThreshold
}

// Resolve maps a script template path onto templates_dir.
func (m *Matcher) Resolve(path string) string {
	if filepath.IsAbs(path) || m.cfg.TemplatesDir == "" {
		return path
	}
	return filepath.Join(m.cfg.TemplatesDir, path)
}

// Evaluate matches the named template against frame. It returns ctx's
// error if ctx ends mid-match.
func (m *Matcher) Evaluate(ctx context.Context, frame image.Image, template string, region *image.Rectangle, threshold float64) (Result, error) {
	tmpl, err := m.cache.Get(m.Resolve(template))
	if err != nil {
		return Result{}, err
	}

	res, err := Match(ctx, frame, tmpl, Options{
		Region:    region,
		Threshold: threshold,
		Grayscale: m.cfg.UseGrayscale,
		Scales:    m.cfg.Scales,
	})
	if err != nil {
		return Result{}, err
	}

	if m.metrics != nil {
		m.metrics.WriteMatchScore(template, res.Score, res.Found, res.Scale)
	}
	return res, nil
}
