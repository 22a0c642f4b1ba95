package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ImageCache remembers which step images were pulled and their registry
// digests, so repeated runs skip pulls and manifests record the digest.
type ImageCache struct {
	CacheDir string
	MaxAge   time.Duration

	// Resolve looks up the registry digest of an image reference.
	Resolve func(ctx context.Context, ref string) (string, error)
	// Present reports whether an image exists locally.
	Present func(ctx context.Context, ref string) (bool, error)
	// Pull fetches an image.
	Pull func(ctx context.Context, ref string) error

	mu          sync.Mutex
	imageStates map[string]*ImageState
}

// ImageState tracks the state of a cached image
type ImageState struct {
	Image    string    `json:"image"`
	Digest   string    `json:"digest,omitempty"`
	CachedAt time.Time `json:"cached_at"`
	LastUsed time.Time `json:"last_used"`
	PullTime int64     `json:"pull_time_ms"`
}

// CacheManifest stores metadata about cached images
type CacheManifest struct {
	Version   string                 `json:"version"`
	Images    map[string]*ImageState `json:"images"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewImageCache creates a cache backed by the docker CLI and the
// registry API.
func NewImageCache(cacheDir string, maxAge time.Duration) *ImageCache {
	return &ImageCache{
		CacheDir:    cacheDir,
		MaxAge:      maxAge,
		Resolve:     ResolveImageDigest,
		Present:     ImageExists,
		Pull:        PullImage,
		imageStates: make(map[string]*ImageState),
	}
}

func (c *ImageCache) manifestPath() string {
	return filepath.Join(c.CacheDir, "images.json")
}

// LoadManifest loads the cache manifest from disk
func (c *ImageCache) LoadManifest() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.manifestPath())
	if os.IsNotExist(err) {
		c.imageStates = make(map[string]*ImageState)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest CacheManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("unmarshal manifest: %w", err)
	}
	c.imageStates = manifest.Images
	if c.imageStates == nil {
		c.imageStates = make(map[string]*ImageState)
	}
	return nil
}

// SaveManifest saves the cache manifest to disk
func (c *ImageCache) SaveManifest() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *ImageCache) saveLocked() error {
	if err := os.MkdirAll(c.CacheDir, 0o750); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(CacheManifest{
		Version:   "1",
		Images:    c.imageStates,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(c.manifestPath(), data, 0o600)
}

// EnsureImage makes sure image is present locally, pulling it when it is
// missing or its cache entry is older than MaxAge.
func (c *ImageCache) EnsureImage(ctx context.Context, image string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	state, cached := c.imageStates[image]
	fresh := cached && (c.MaxAge <= 0 || now.Sub(state.CachedAt) < c.MaxAge)

	if fresh {
		present, err := c.Present(ctx, image)
		if err != nil {
			return err
		}
		if present {
			state.LastUsed = now
			return c.saveLocked()
		}
	}

	start := time.Now()
	if err := c.Pull(ctx, image); err != nil {
		return err
	}

	digest := ""
	if c.Resolve != nil {
		// A registry lookup failure only costs the digest in the manifest.
		digest, _ = c.Resolve(ctx, image)
	}
	c.imageStates[image] = &ImageState{
		Image:    image,
		Digest:   digest,
		CachedAt: now,
		LastUsed: now,
		PullTime: time.Since(start).Milliseconds(),
	}
	return c.saveLocked()
}

// Digest returns the recorded registry digest for image, if any.
func (c *ImageCache) Digest(image string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.imageStates[image]; ok {
		return s.Digest
	}
	return ""
}

// PruneCache forgets images not used within maxAge and returns their names.
func (c *ImageCache) PruneCache(maxAge time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	cutoff := time.Now().Add(-maxAge)
	for name, state := range c.imageStates {
		if state.LastUsed.Before(cutoff) {
			delete(c.imageStates, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, c.saveLocked()
}
