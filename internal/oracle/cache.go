package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingOracle memoizes successful responses by model, parameters and prompt.
// Failures are never cached.
type CachingOracle struct {
	next  Oracle
	cache *expirable.LRU[string, string]
}

var _ Oracle = (*CachingOracle)(nil)

// NewCachingOracle wraps next with a bounded TTL memo
func NewCachingOracle(next Oracle, size int, ttl time.Duration) *CachingOracle {
	if size < 1 {
		size = 1024
	}
	return &CachingOracle{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *CachingOracle) Query(ctx context.Context, prompt string, params Params) (string, error) {
	key := memoKey(prompt, params)
	if resp, ok := c.cache.Get(key); ok {
		return resp, nil
	}

	resp, err := c.next.Query(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, resp)
	return resp, nil
}

// Len returns the number of memoized responses
func (c *CachingOracle) Len() int {
	return c.cache.Len()
}

func memoKey(prompt string, p Params) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%g|%g|%s", p.Model, p.MaxTokens, p.Temperature, p.TopP, prompt)))
	return hex.EncodeToString(sum[:])
}
