// Package pictures downloads card images into a local cache directory and
// serves them with display geometry fitted to the reference canvas.
//
// Downloads and reads may race: the batch prefetch runs in the background
// while the first card is already on screen. Get therefore waits for an
// in-flight download when one is registered, and falls back to a bounded
// polling retry for writers it cannot see (another process, a crashed
// previous run).
package pictures

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Reference canvas and fit-to-box limits. Images are scaled down to fit
// width then height, never up, and centered on the canvas.
const (
	ScreenWidth  = 1920
	ScreenHeight = 1080
	MaxWidth     = 1400
	MaxHeight    = 700
)

const (
	defaultRetryInterval = 100 * time.Millisecond
	defaultMaxAttempts   = 30
	defaultExtension     = ".jpg"
	prefetchConcurrency  = 4
)

// Picture is a cached image plus the box it should occupy on screen.
// It is computed fresh on every Get and never persisted.
type Picture struct {
	Path string
	X    int
	Y    int
	W    int
	H    int
}

// Error is a cache failure: a download that did not succeed or an image
// that never became readable within the retry budget.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("picture %q: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Ref names one image to prefetch.
type Ref struct {
	URL  string
	Name string
}

// Cache stores downloaded images in a directory, keyed by logical name.
// Content at a given name is assumed immutable; there is no revalidation.
type Cache struct {
	dir    string
	client *http.Client

	retryInterval time.Duration
	maxAttempts   int

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient replaces the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) { c.client = client }
}

// WithRetryPolicy overrides the read-retry interval and attempt budget.
func WithRetryPolicy(interval time.Duration, attempts int) Option {
	return func(c *Cache) {
		c.retryInterval = interval
		c.maxAttempts = attempts
	}
}

// NewCache creates the cache directory if needed and returns the cache.
func NewCache(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create picture cache directory: %w", err)
	}
	c := &Cache{
		dir:           dir,
		client:        &http.Client{Timeout: 30 * time.Second},
		retryInterval: defaultRetryInterval,
		maxAttempts:   defaultMaxAttempts,
		inflight:      make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Download fetches the image at url into the cache under the given name.
// It is idempotent: when a file for the name already exists the network is
// not touched. The file extension is inferred from the response content
// type.
func (c *Cache) Download(ctx context.Context, url, name string) error {
	if _, err := c.findCached(name); err == nil {
		return nil
	}

	done, owner := c.register(name)
	if !owner {
		// Another goroutine is already fetching this name; share its result.
		select {
		case <-done:
		case <-ctx.Done():
			return &Error{Name: name, Err: ctx.Err()}
		}
		if _, err := c.findCached(name); err != nil {
			return &Error{Name: name, Err: err}
		}
		return nil
	}
	defer c.release(name, done)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Name: name, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Name: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Name: name, Err: fmt.Errorf("download failed with status %d: %s", resp.StatusCode, body)}
	}

	path := filepath.Join(c.dir, name+extensionFor(resp.Header.Get("Content-Type")))

	// Write to a temp file first so a reader can never open a half-written
	// image under the final name.
	tmp := filepath.Join(c.dir, fmt.Sprintf(".dl-%s.tmp", uuid.NewString()))
	out, err := os.Create(tmp)
	if err != nil {
		return &Error{Name: name, Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return &Error{Name: name, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return &Error{Name: name, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &Error{Name: name, Err: err}
	}
	return nil
}

// DownloadAll prefetches a batch of images concurrently. Individual
// failures are logged and do not stop the rest of the batch; the card is
// simply shown without its picture later.
func (c *Cache) DownloadAll(ctx context.Context, refs []Ref) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			if err := c.Download(ctx, ref.URL, ref.Name); err != nil {
				slog.Warn("picture prefetch failed", "name", ref.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Get opens the cached image for the name and computes its display box.
// When the download is still in flight Get waits for it to finish; for
// writers it cannot see it retries on a fixed interval. Both the wait and
// the retries draw on one shared budget of maxAttempts * retryInterval
// before failing with *Error.
func (c *Cache) Get(ctx context.Context, name string) (Picture, error) {
	deadline := time.Now().Add(time.Duration(c.maxAttempts) * c.retryInterval)

	c.mu.Lock()
	done := c.inflight[name]
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Picture{}, &Error{Name: name, Err: ctx.Err()}
		case <-time.After(time.Until(deadline)):
		}
	}

	attempts := 0
	var lastErr error
	for {
		pic, err := c.open(name)
		if err == nil {
			return pic, nil
		}
		lastErr = err

		attempts++
		if attempts >= c.maxAttempts || !time.Now().Add(c.retryInterval).Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return Picture{}, &Error{Name: name, Err: ctx.Err()}
		case <-time.After(c.retryInterval):
		}
	}
	return Picture{}, &Error{Name: name, Err: fmt.Errorf("not readable after %d attempts: %w", attempts, lastErr)}
}

// Clear deletes all cached files. Maintenance only; never called during a
// review session.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read picture cache: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (c *Cache) open(name string) (Picture, error) {
	path, err := c.findCached(name)
	if err != nil {
		return Picture{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Picture{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Picture{}, err
	}

	x, y, w, h := fitBox(cfg.Width, cfg.Height)
	return Picture{Path: path, X: x, Y: y, W: w, H: h}, nil
}

// findCached locates the cache file for a name regardless of extension.
func (c *Cache) findCached(name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, name+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".tmp") {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("%s: %w", name, os.ErrNotExist)
}

func (c *Cache) register(name string) (chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.inflight[name]; ok {
		return existing, false
	}
	done := make(chan struct{})
	c.inflight[name] = done
	return done, true
}

func (c *Cache) release(name string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[name] == done {
		delete(c.inflight, name)
		close(done)
	}
}

// fitBox scales (w, h) down to fit the limits, width constraint first,
// preserving aspect ratio and never upscaling, then centers the result on
// the reference canvas. Results are truncated to whole pixels.
func fitBox(width, height int) (x, y, w, h int) {
	fw, fh := float64(width), float64(height)
	if fw > MaxWidth {
		fh *= MaxWidth / fw
		fw = MaxWidth
	}
	if fh > MaxHeight {
		fw *= MaxHeight / fh
		fh = MaxHeight
	}
	x = int(ScreenWidth/2 - fw/2)
	y = int(ScreenHeight/2 - fh/2)
	return x, y, int(fw), int(fh)
}

// preferredExtensions pins common image types to one extension so cache
// file names do not depend on the host's mime tables.
var preferredExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultExtension
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return defaultExtension
}
