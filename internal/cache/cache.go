package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/sirupsen/logrus"
)

// PostEntry is the cached outcome of a processed post
type PostEntry struct {
	Status models.ProcessingStatus
	Topics []string
	Post   models.Post
}

// Requeuer receives interactions released from the waiting set
type Requeuer interface {
	Put(ctx context.Context, item models.Interaction) error
}

// Cache indexes recently processed posts and the interactions waiting on them.
// processed and waiting are only mutated together under mu, so a release in
// RecordPostResult and a registration in AddWaiting cannot interleave.
// Waiting sets expire after the same retention as processed entries; their
// interactions stay pending in the store and discovery picks them up again.
type Cache struct {
	store   storage.Store
	requeue Requeuer

	mu        sync.Mutex
	processed *expirable.LRU[string, PostEntry]
	waiting   *expirable.LRU[string, map[string]models.Interaction]
}

// New creates a cache. Entries expire after retention; capacity 0 means unbounded.
func New(store storage.Store, requeue Requeuer, retention time.Duration, capacity int) *Cache {
	return &Cache{
		store:     store,
		requeue:   requeue,
		processed: expirable.NewLRU[string, PostEntry](capacity, nil, retention),
		waiting:   expirable.NewLRU[string, map[string]models.Interaction](0, nil, retention),
	}
}

func entryFromPost(post models.Post) PostEntry {
	return PostEntry{
		Status: post.Status,
		Topics: append([]string(nil), post.Topics...),
		Post:   post,
	}
}

// RecordPostResult caches a terminal post and resubmits every interaction that
// was waiting on it. It returns the number of interactions released.
func (c *Cache) RecordPostResult(ctx context.Context, post models.Post) int {
	if !post.Status.IsTerminal() {
		return 0
	}
	key := post.Key()

	c.mu.Lock()
	c.processed.Add(key, entryFromPost(post))
	waiters, _ := c.waiting.Peek(key)
	c.waiting.Remove(key)
	c.mu.Unlock()

	if len(waiters) == 0 {
		return 0
	}

	ids := make([]string, 0, len(waiters))
	for id := range waiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := c.requeue.Put(ctx, waiters[id]); err != nil {
			// The interaction stays pending in the store and is rediscovered
			logrus.WithFields(logrus.Fields{
				"post_id":        post.PostID,
				"interaction_id": waiters[id].InteractionID,
			}).Warnf("Failed to resubmit waiting interaction: %v", err)
		}
	}

	logrus.WithField("post_id", post.PostID).Debugf("Released %d waiting interactions", len(ids))
	return len(ids)
}

// LookupPost returns the post from the cache, falling back to the store.
// A terminal store hit is cached.
func (c *Cache) LookupPost(ctx context.Context, platform models.PlatformType, postID string) (PostEntry, bool, error) {
	key := models.ContentKey(platform, postID)
	if entry, ok := c.processed.Get(key); ok {
		return entry, true, nil
	}

	post, err := c.store.GetPostByID(ctx, platform, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return PostEntry{}, false, nil
	}
	if err != nil {
		return PostEntry{}, false, err
	}

	entry := entryFromPost(*post)
	if post.Status.IsTerminal() {
		c.processed.Add(key, entry)
	}
	return entry, true, nil
}

// AddWaiting registers an interaction as blocked on its parent post.
// When the parent is already terminal, or turns terminal in the store while
// registering, the parent entry is returned and nothing stays registered;
// the caller must then process the interaction itself.
func (c *Cache) AddWaiting(ctx context.Context, interaction models.Interaction) *PostEntry {
	parentKey := interaction.ParentKey()
	key := interaction.Key()

	c.mu.Lock()
	if entry, ok := c.processed.Get(parentKey); ok && entry.Status.IsTerminal() {
		c.mu.Unlock()
		return &entry
	}
	set, ok := c.waiting.Get(parentKey)
	if !ok {
		set = make(map[string]models.Interaction)
	}
	set[key] = interaction
	// Re-adding restarts the retention window for the whole set
	c.waiting.Add(parentKey, set)
	c.mu.Unlock()

	// The parent may have been persisted by a post worker whose cache entry
	// was evicted or never recorded in this process.
	post, err := c.store.GetPostByID(ctx, interaction.Platform, interaction.PostID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		// Registration stands; RecordPostResult will still release it
		logrus.WithFields(logrus.Fields{
			"post_id":        interaction.PostID,
			"interaction_id": interaction.InteractionID,
		}).Warnf("Parent re-check failed: %v", err)
		return nil
	}
	if !post.Status.IsTerminal() {
		return nil
	}

	entry := entryFromPost(*post)

	c.mu.Lock()
	c.processed.Add(parentKey, entry)
	withdrawn := false
	if set, ok := c.waiting.Peek(parentKey); ok {
		if _, ok := set[key]; ok {
			delete(set, key)
			withdrawn = true
			if len(set) == 0 {
				c.waiting.Remove(parentKey)
			}
		}
	}
	c.mu.Unlock()

	if !withdrawn {
		// Already released to the queue by RecordPostResult
		return nil
	}
	return &entry
}

// WaitingCount returns the number of interactions currently blocked
func (c *Cache) WaitingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, set := range c.waiting.Values() {
		n += len(set)
	}
	return n
}

// ProcessedCount returns the number of cached post outcomes
func (c *Cache) ProcessedCount() int {
	return c.processed.Len()
}
