package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/queue"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPost(id string, status models.ProcessingStatus) models.Post {
	return models.Post{Platform: models.PlatformTwitter, PostID: id, Status: status, Topics: []string{"governance"}}
}

func newInteraction(id, postID string) models.Interaction {
	return models.Interaction{
		Platform:      models.PlatformTwitter,
		InteractionID: id,
		PostID:        postID,
		Type:          models.InteractionReply,
		Status:        models.StatusPending,
	}
}

func setup(t *testing.T, capacity int) (*Cache, *storage.MemoryStore, *queue.Queue[models.Interaction]) {
	t.Helper()
	store := storage.NewMemoryStore()
	q := queue.New[models.Interaction](capacity)
	return New(store, q, time.Hour, 0), store, q
}

func TestCache_WaitingInteractionReleasedOnResult(t *testing.T) {
	c, store, q := setup(t, 10)
	ctx := context.Background()
	require.NoError(t, store.UpsertPost(ctx, newPost("p1", models.StatusPending)))

	assert.Nil(t, c.AddWaiting(ctx, newInteraction("i1", "p1")))
	assert.Nil(t, c.AddWaiting(ctx, newInteraction("i2", "p1")))
	assert.Equal(t, 2, c.WaitingCount())

	released := c.RecordPostResult(ctx, newPost("p1", models.StatusAccepted))
	assert.Equal(t, 2, released)
	assert.Equal(t, 0, c.WaitingCount())
	assert.Equal(t, 2, q.Len())

	first, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "i1", first.InteractionID)
}

func TestCache_DuplicateRegistrationIsReleasedOnce(t *testing.T) {
	c, _, q := setup(t, 10)
	ctx := context.Background()

	assert.Nil(t, c.AddWaiting(ctx, newInteraction("i1", "p1")))
	assert.Nil(t, c.AddWaiting(ctx, newInteraction("i1", "p1")))
	assert.Equal(t, 1, c.WaitingCount())

	assert.Equal(t, 1, c.RecordPostResult(ctx, newPost("p1", models.StatusRejected)))
	assert.Equal(t, 1, q.Len())
}

func TestCache_AddWaitingAfterResultReturnsEntry(t *testing.T) {
	c, _, q := setup(t, 10)
	ctx := context.Background()

	c.RecordPostResult(ctx, newPost("p1", models.StatusRejected))

	entry := c.AddWaiting(ctx, newInteraction("i1", "p1"))
	require.NotNil(t, entry)
	assert.Equal(t, models.StatusRejected, entry.Status)
	assert.Equal(t, 0, c.WaitingCount())
	assert.Equal(t, 0, q.Len())
}

func TestCache_AddWaitingRechecksStore(t *testing.T) {
	c, store, _ := setup(t, 10)
	ctx := context.Background()

	// Processed before this process started: in the store, not in the cache
	require.NoError(t, store.UpsertPost(ctx, newPost("p1", models.StatusAccepted)))

	entry := c.AddWaiting(ctx, newInteraction("i1", "p1"))
	require.NotNil(t, entry)
	assert.Equal(t, models.StatusAccepted, entry.Status)
	assert.Equal(t, 0, c.WaitingCount())
	assert.Equal(t, 1, c.ProcessedCount())
}

func TestCache_NonTerminalResultIsIgnored(t *testing.T) {
	c, _, q := setup(t, 10)
	ctx := context.Background()

	assert.Nil(t, c.AddWaiting(ctx, newInteraction("i1", "p1")))
	assert.Equal(t, 0, c.RecordPostResult(ctx, newPost("p1", models.StatusPending)))
	assert.Equal(t, 1, c.WaitingCount())
	assert.Equal(t, 0, q.Len())
}

func TestCache_LookupPost(t *testing.T) {
	c, store, _ := setup(t, 10)
	ctx := context.Background()

	_, ok, err := c.LookupPost(ctx, models.PlatformTwitter, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.UpsertPost(ctx, newPost("pending", models.StatusPending)))
	entry, ok, err := c.LookupPost(ctx, models.PlatformTwitter, "pending")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StatusPending, entry.Status)
	assert.Equal(t, 0, c.ProcessedCount(), "non-terminal store hits are not cached")

	require.NoError(t, store.UpsertPost(ctx, newPost("done", models.StatusAccepted)))
	entry, ok, err = c.LookupPost(ctx, models.PlatformTwitter, "done")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"governance"}, entry.Topics)
	assert.Equal(t, 1, c.ProcessedCount())
}

func TestCache_NoLostWakeupUnderConcurrency(t *testing.T) {
	const n = 200
	c, store, q := setup(t, n)
	ctx := context.Background()
	require.NoError(t, store.UpsertPost(ctx, newPost("p1", models.StatusPending)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved = make(map[string]int)
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			interaction := newInteraction(fmt.Sprintf("i%03d", i), "p1")
			if entry := c.AddWaiting(ctx, interaction); entry != nil {
				mu.Lock()
				resolved[interaction.InteractionID]++
				mu.Unlock()
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		post := newPost("p1", models.StatusAccepted)
		assert.NoError(t, store.UpsertPost(ctx, post))
		c.RecordPostResult(ctx, post)
	}()
	wg.Wait()

	// Every interaction is resolved exactly once: returned directly or requeued
	q.Close()
	for {
		item, err := q.Get(ctx)
		if err != nil {
			break
		}
		resolved[item.InteractionID]++
	}

	assert.Len(t, resolved, n)
	for id, count := range resolved {
		assert.Equal(t, 1, count, "interaction %s", id)
	}
	assert.Equal(t, 0, c.WaitingCount())
}

func TestCache_WaitingSetExpires(t *testing.T) {
	store := storage.NewMemoryStore()
	q := queue.New[models.Interaction](10)
	c := New(store, q, 50*time.Millisecond, 0)
	ctx := context.Background()

	// The parent never reaches a recorded result
	assert.Nil(t, c.AddWaiting(ctx, newInteraction("i1", "p1")))
	assert.Equal(t, 1, c.WaitingCount())

	assert.Eventually(t, func() bool { return c.WaitingCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.RecordPostResult(ctx, newPost("p1", models.StatusAccepted)))
	assert.Equal(t, 0, q.Len())
}
