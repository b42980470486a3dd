package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-lora/tensor"
)

// EncodeFunc produces the latent tensor for one sample key, typically by
// running the VAE encoder. It must be safe for concurrent use.
type EncodeFunc func(ctx context.Context, key string) (*tensor.Tensor, error)

// LatentCache stores pre-encoded latents by sample key. When latent
// caching is enabled the text encoder and VAE can move to the offload
// device after warm-up, since training reads latents from here instead.
type LatentCache struct {
	mu      sync.RWMutex
	entries map[string]*tensor.Tensor
}

// NewLatentCache creates an empty latent cache
func NewLatentCache() *LatentCache {
	return &LatentCache{
		entries: make(map[string]*tensor.Tensor),
	}
}

// Get returns the cached latent for a key, or nil when absent.
func (c *LatentCache) Get(key string) *tensor.Tensor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// Put stores a latent under a key, replacing any previous entry.
func (c *LatentCache) Put(key string, latent *tensor.Tensor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = latent
}

// Len returns the number of cached latents.
func (c *LatentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Warm encodes and caches all missing keys with a bounded worker pool.
// Keys already present are skipped, so a resumed warm-up only pays for
// the remainder. The first encode error cancels the remaining work.
func (c *LatentCache) Warm(ctx context.Context, keys []string, encode EncodeFunc, workers int) error {
	if encode == nil {
		return fmt.Errorf("encode function is nil")
	}
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, key := range keys {
		if c.Get(key) != nil {
			continue
		}
		g.Go(func() error {
			latent, err := encode(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to encode latent for %q: %v", key, err)
			}
			c.Put(key, latent)
			return nil
		})
	}

	return g.Wait()
}
