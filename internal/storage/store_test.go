package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })

	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("gorm", func(t *testing.T) { fn(t, newTestGormStore(t)) })
}

func TestStore_NodeUpsertIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		node := models.Node{Hotkey: "5Hot", Netuid: 23}

		require.NoError(t, store.UpsertNode(ctx, node))
		require.NoError(t, store.UpsertNode(ctx, node))

		got, err := store.GetNode(ctx, "5Hot", 23)
		require.NoError(t, err)
		assert.Equal(t, node, *got)

		_, err = store.GetNode(ctx, "5Hot", 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_PostStatusIsMonotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		post := models.Post{
			Platform:  models.PlatformTwitter,
			PostID:    "100",
			AccountID: "a1",
			Content:   "thread",
			CreatedAt: created,
			Status:    models.StatusPending,
		}
		require.NoError(t, store.UpsertPost(ctx, post))

		processed := post
		processed.Status = models.StatusAccepted
		processed.Topics = []string{"governance"}
		require.NoError(t, store.UpsertPost(ctx, processed))

		// Rediscovery must not revert the processed record
		require.NoError(t, store.UpsertPost(ctx, post))

		got, err := store.GetPostByID(ctx, models.PlatformTwitter, "100")
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, got.Status)
		assert.Equal(t, []string{"governance"}, got.Topics)
		assert.True(t, created.Equal(got.CreatedAt))

		_, err = store.GetPostByID(ctx, models.PlatformTwitter, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_InteractionStatusIsMonotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		interaction := models.Interaction{
			InteractionID: "200",
			Platform:      models.PlatformTwitter,
			Type:          models.InteractionReply,
			AccountID:     "b1",
			PostID:        "100",
			CreatedAt:     time.Now().UTC(),
			Status:        models.StatusRejected,
		}
		require.NoError(t, store.UpsertInteraction(ctx, interaction))

		interaction.Status = models.StatusPending
		require.NoError(t, store.UpsertInteraction(ctx, interaction))

		got, err := store.GetInteractionByID(ctx, models.PlatformTwitter, "200")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status)
		assert.Equal(t, models.InteractionReply, got.Type)
	})
}

func TestStore_AccountUpsertKeepsNodeLink(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.UpsertSocialAccount(ctx, models.SocialAccount{
			Platform:   models.PlatformTwitter,
			AccountID:  "a1",
			Username:   "alice",
			NodeHotkey: "5Hot",
			NodeNetuid: 23,
			Verified:   true,
		}))

		// Refresh as an interaction author: no node link in the write
		require.NoError(t, store.UpsertSocialAccount(ctx, models.SocialAccount{
			Platform:       models.PlatformTwitter,
			AccountID:      "a1",
			Username:       "alice",
			FollowersCount: 2000,
		}))

		got, err := store.GetSocialAccount(ctx, models.PlatformTwitter, "a1")
		require.NoError(t, err)
		assert.Equal(t, "5Hot", got.NodeHotkey)
		assert.Equal(t, 23, got.NodeNetuid)
		assert.True(t, got.Verified)
		assert.Equal(t, 2000, got.FollowersCount)
	})
}

func TestStore_GetRecentAcceptedInteractions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		seed := []models.Interaction{
			{InteractionID: "old", CreatedAt: now.Add(-10 * 24 * time.Hour), Status: models.StatusAccepted},
			{InteractionID: "b", CreatedAt: now.Add(-time.Hour), Status: models.StatusAccepted},
			{InteractionID: "a", CreatedAt: now.Add(-time.Hour), Status: models.StatusAccepted},
			{InteractionID: "first", CreatedAt: now.Add(-2 * time.Hour), Status: models.StatusAccepted},
			{InteractionID: "rejected", CreatedAt: now.Add(-time.Hour), Status: models.StatusRejected},
			{InteractionID: "pending", CreatedAt: now.Add(-time.Hour), Status: models.StatusPending},
		}
		for _, i := range seed {
			i.Platform = models.PlatformTwitter
			i.Type = models.InteractionReply
			require.NoError(t, store.UpsertInteraction(ctx, i))
		}

		got, err := store.GetRecentAcceptedInteractions(ctx, now.Add(-7*24*time.Hour))
		require.NoError(t, err)

		var ids []string
		for _, i := range got {
			ids = append(ids, i.InteractionID)
		}
		assert.Equal(t, []string{"first", "a", "b"}, ids)
	})
}

func TestStore_ListPostsAndInteractions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		for _, p := range []models.Post{
			{PostID: "p-old", AccountID: "a1", CreatedAt: now.Add(-10 * 24 * time.Hour), Status: models.StatusAccepted},
			{PostID: "p-new", AccountID: "a1", CreatedAt: now.Add(-time.Hour), Status: models.StatusAccepted},
			{PostID: "p-mid", AccountID: "a2", CreatedAt: now.Add(-2 * time.Hour), Status: models.StatusRejected},
		} {
			p.Platform = models.PlatformTwitter
			require.NoError(t, store.UpsertPost(ctx, p))
		}
		for _, i := range []models.Interaction{
			{InteractionID: "i1", PostID: "p-new", CreatedAt: now.Add(-30 * time.Minute), Status: models.StatusAccepted},
			{InteractionID: "i2", PostID: "p-new", CreatedAt: now.Add(-10 * time.Minute), Status: models.StatusPending},
			{InteractionID: "i3", PostID: "p-mid", CreatedAt: now.Add(-20 * time.Minute), Status: models.StatusAccepted},
		} {
			i.Platform = models.PlatformTwitter
			i.Type = models.InteractionReply
			require.NoError(t, store.UpsertInteraction(ctx, i))
		}

		postIDs := func(posts []models.Post) []string {
			var out []string
			for _, p := range posts {
				out = append(out, p.PostID)
			}
			return out
		}

		all, err := store.ListPosts(ctx, PostFilter{Platform: models.PlatformTwitter})
		require.NoError(t, err)
		assert.Equal(t, []string{"p-new", "p-mid", "p-old"}, postIDs(all))

		recent, err := store.ListPosts(ctx, PostFilter{Since: now.Add(-7 * 24 * time.Hour), Status: models.StatusAccepted})
		require.NoError(t, err)
		assert.Equal(t, []string{"p-new"}, postIDs(recent))

		bounded, err := store.ListPosts(ctx, PostFilter{AccountID: "a1", Until: now.Add(-time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"p-old"}, postIDs(bounded), "until is exclusive")

		onPost, err := store.ListInteractions(ctx, InteractionFilter{PostID: "p-new"})
		require.NoError(t, err)
		require.Len(t, onPost, 2)
		assert.Equal(t, "i2", onPost[0].InteractionID)
		assert.Equal(t, "i1", onPost[1].InteractionID)

		accepted, err := store.ListInteractions(ctx, InteractionFilter{Platform: models.PlatformTwitter, Status: models.StatusAccepted})
		require.NoError(t, err)
		require.Len(t, accepted, 2)
		assert.Equal(t, "i3", accepted[0].InteractionID)
	})
}

func TestStore_ListAccountsByNode(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, a := range []models.SocialAccount{
			{AccountID: "a2", Username: "second", NodeHotkey: "hk-1", NodeNetuid: 23, Verified: true},
			{AccountID: "a1", Username: "first", NodeHotkey: "hk-1", NodeNetuid: 23, Verified: true},
			{AccountID: "b1", Username: "other", NodeHotkey: "hk-2", NodeNetuid: 23, Verified: true},
			{AccountID: "c1", Username: "unlinked"},
		} {
			a.Platform = models.PlatformTwitter
			require.NoError(t, store.UpsertSocialAccount(ctx, a))
		}

		accounts, err := store.ListAccountsByNode(ctx, "hk-1", 23)
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, "first", accounts[0].Username)
		assert.Equal(t, "second", accounts[1].Username)

		none, err := store.ListAccountsByNode(ctx, "hk-1", 1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestOpenDatabase_RejectsUnknownScheme(t *testing.T) {
	_, err := OpenDatabase("mysql://localhost/db", false)
	assert.Error(t, err)
}

func TestOpenDatabase_Sqlite(t *testing.T) {
	db, err := OpenDatabase("sqlite://"+filepath.Join(t.TempDir(), "nested", "nuance.sqlite"), false)
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	defer sqldb.Close()

	_, err = NewGormStore(db)
	assert.NoError(t, err)
}

func TestWeightArchive_SaveAndLatest(t *testing.T) {
	ctx := context.Background()
	archive := NewWeightArchive(NewMemoryBlobStore())

	_, err := archive.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, hotkey := range []string{"first", "second"} {
		_, err := archive.Save(ctx, &models.WeightReport{
			GeneratedAt: base.Add(time.Duration(i) * time.Hour),
			Weights:     map[string]float64{hotkey: 1},
			Submitted:   true,
		})
		require.NoError(t, err)
	}

	latest, err := archive.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"second": 1}, latest.Weights)
}
