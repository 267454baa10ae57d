package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nuance-network/nuance-validator/internal/ledger"
	"github.com/nuance-network/nuance-validator/internal/metrics"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/retry"
	"github.com/nuance-network/nuance-validator/internal/sources"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// parentFetchConcurrency limits parallel GetPost calls per account
const parentFetchConcurrency = 4

// Sink accepts discovered work. A full sink blocks the caller.
type Sink[T any] interface {
	Put(ctx context.Context, item T) error
}

// Options tunes a discovery worker
type Options struct {
	// MinAuthorAccountAge drops interactions from younger accounts. Zero disables the check.
	MinAuthorAccountAge time.Duration

	// CallTimeout bounds every ledger, store and content source call
	CallTimeout time.Duration

	// InflightRetention is how long an enqueued id is remembered by this process
	InflightRetention time.Duration
}

// Stats summarizes one discovery cycle
type Stats struct {
	Claims       int `json:"claims"`
	Verified     int `json:"verified"`
	Posts        int `json:"posts"`
	Interactions int `json:"interactions"`
	Failed       int `json:"failed"`
}

// Worker brings new content from the ledger's claimed accounts into the queues
type Worker struct {
	ledger       ledger.Ledger
	store        storage.Store
	sources      sources.Registry
	posts        Sink[models.Post]
	interactions Sink[models.Interaction]
	opts         Options

	// inflight holds keys enqueued by this process that may still be pending in the store
	inflight *expirable.LRU[string, struct{}]
	mu       sync.Mutex
	now      func() time.Time
}

// NewWorker creates a discovery worker
func NewWorker(l ledger.Ledger, store storage.Store, registry sources.Registry, posts Sink[models.Post], interactions Sink[models.Interaction], opts Options) *Worker {
	if opts.InflightRetention <= 0 {
		opts.InflightRetention = 24 * time.Hour
	}
	return &Worker{
		ledger:       l,
		store:        store,
		sources:      registry,
		posts:        posts,
		interactions: interactions,
		opts:         opts,
		inflight:     expirable.NewLRU[string, struct{}](0, nil, opts.InflightRetention),
		now:          time.Now,
	}
}

// RunCycle performs one full discovery pass. Only a ledger failure aborts the
// cycle; everything else is isolated to the claim it happened on.
func (w *Worker) RunCycle(ctx context.Context) (Stats, error) {
	// One cycle at a time keeps the dedup check and the in-flight marks consistent
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.now()
	var stats Stats

	callCtx, cancel := retry.CallContext(ctx, w.opts.CallTimeout)
	commitments, err := w.ledger.GetCommitments(callCtx)
	cancel()
	if err != nil {
		metrics.DiscoveryCycles.WithLabelValues("error").Inc()
		return stats, fmt.Errorf("failed to fetch commitments: %w", err)
	}

	logrus.Infof("Starting discovery over %d commitments", len(commitments))

	for _, commitment := range commitments {
		if ctx.Err() != nil {
			logrus.Info("Discovery interrupted by shutdown")
			break
		}
		stats.Claims++

		posts, interactions, err := w.processCommitment(ctx, commitment)
		stats.Posts += posts
		stats.Interactions += interactions

		switch {
		case err == nil:
			stats.Verified++
			metrics.ClaimsProcessed.WithLabelValues("ok").Inc()
		case errors.Is(err, models.ErrInvalidClaim), errors.Is(err, sources.ErrVerification), errors.Is(err, errUnsupportedPlatform):
			metrics.ClaimsProcessed.WithLabelValues("skipped").Inc()
			logrus.WithField("hotkey", commitment.Hotkey).Infof("Skipping claim: %v", err)
		default:
			stats.Failed++
			metrics.ClaimsProcessed.WithLabelValues("error").Inc()
			logrus.WithField("hotkey", commitment.Hotkey).Errorf("Discovery failed for claim: %v", err)
		}
	}

	metrics.DiscoveryCycles.WithLabelValues("ok").Inc()
	logrus.WithFields(logrus.Fields{
		"claims":       stats.Claims,
		"verified":     stats.Verified,
		"posts":        stats.Posts,
		"interactions": stats.Interactions,
		"failed":       stats.Failed,
	}).Infof("Discovery cycle completed in %v", time.Since(start))
	return stats, nil
}

var errUnsupportedPlatform = errors.New("unsupported platform")

// processCommitment returns the number of posts and interactions enqueued
func (w *Worker) processCommitment(ctx context.Context, commitment models.Commitment) (int, int, error) {
	node := commitment.Node()
	if err := w.call(ctx, func(c context.Context) error { return w.store.UpsertNode(c, node) }); err != nil {
		return 0, 0, err
	}

	claim, err := models.ParseClaim(commitment.Data)
	if err != nil {
		return 0, 0, err
	}

	source, ok := w.sources.Get(claim.Platform)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", errUnsupportedPlatform, claim.Platform)
	}

	var account *models.SocialAccount
	err = w.call(ctx, func(c context.Context) error {
		var verr error
		account, verr = source.VerifyAccountOwnership(c, claim, node)
		return verr
	})
	if err != nil {
		return 0, 0, err
	}
	if err := w.call(ctx, func(c context.Context) error { return w.store.UpsertSocialAccount(c, *account) }); err != nil {
		return 0, 0, err
	}

	log := logrus.WithFields(logrus.Fields{
		"hotkey":   node.Hotkey,
		"platform": account.Platform,
		"username": account.Username,
	})

	var (
		posts        []models.Post
		interactions []models.Interaction
	)
	err = w.call(ctx, func(c context.Context) error {
		var ferr error
		posts, ferr = source.DiscoverNewPosts(c, *account)
		return ferr
	})
	if err != nil {
		return 0, 0, err
	}
	err = w.call(ctx, func(c context.Context) error {
		var ferr error
		interactions, ferr = source.DiscoverNewInteractions(c, *account)
		return ferr
	})
	if err != nil {
		return 0, 0, err
	}

	interactions = w.filterEligibleAuthors(interactions)

	posts, interactions, err = w.resolveParents(ctx, source, *account, posts, interactions)
	if err != nil {
		return 0, 0, err
	}

	log.Debugf("Fetched %d posts and %d eligible interactions", len(posts), len(interactions))

	enqueuedPosts := 0
	for _, post := range posts {
		fresh, err := w.isNew(ctx, post.Key(), func(c context.Context) (models.ProcessingStatus, error) {
			stored, err := w.store.GetPostByID(c, post.Platform, post.PostID)
			if err != nil {
				return "", err
			}
			return stored.Status, nil
		})
		if err != nil {
			return enqueuedPosts, 0, err
		}
		if !fresh {
			continue
		}

		post.Status = models.StatusPending
		if err := w.call(ctx, func(c context.Context) error { return w.store.UpsertPost(c, post) }); err != nil {
			return enqueuedPosts, 0, err
		}
		if err := w.posts.Put(ctx, post); err != nil {
			return enqueuedPosts, 0, fmt.Errorf("failed to enqueue post %s: %w", post.PostID, err)
		}
		w.inflight.Add(post.Key(), struct{}{})
		enqueuedPosts++
	}

	enqueuedInteractions := 0
	for _, interaction := range interactions {
		fresh, err := w.isNew(ctx, interaction.Key(), func(c context.Context) (models.ProcessingStatus, error) {
			stored, err := w.store.GetInteractionByID(c, interaction.Platform, interaction.InteractionID)
			if err != nil {
				return "", err
			}
			return stored.Status, nil
		})
		if err != nil {
			return enqueuedPosts, enqueuedInteractions, err
		}
		if !fresh {
			continue
		}

		interaction.Status = models.StatusPending
		if err := w.call(ctx, func(c context.Context) error { return w.store.UpsertInteraction(c, interaction) }); err != nil {
			return enqueuedPosts, enqueuedInteractions, err
		}
		if err := w.interactions.Put(ctx, interaction); err != nil {
			return enqueuedPosts, enqueuedInteractions, fmt.Errorf("failed to enqueue interaction %s: %w", interaction.InteractionID, err)
		}
		w.inflight.Add(interaction.Key(), struct{}{})
		enqueuedInteractions++
	}

	metrics.ItemsDiscovered.WithLabelValues(metrics.KindPost).Add(float64(enqueuedPosts))
	metrics.ItemsDiscovered.WithLabelValues(metrics.KindInteraction).Add(float64(enqueuedInteractions))
	log.Infof("Enqueued %d posts and %d interactions", enqueuedPosts, enqueuedInteractions)
	return enqueuedPosts, enqueuedInteractions, nil
}

// isNew is the dedup boundary. Unknown ids are new, terminal ones are done, and
// pending ones are new only if this process has not already enqueued them.
func (w *Worker) isNew(ctx context.Context, key string, status func(context.Context) (models.ProcessingStatus, error)) (bool, error) {
	var current models.ProcessingStatus
	err := w.call(ctx, func(c context.Context) error {
		var serr error
		current, serr = status(c)
		return serr
	})
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if current.IsTerminal() {
		return false, nil
	}
	// Pending and not enqueued by us: lost in a restart
	return !w.inflight.Contains(key), nil
}

func (w *Worker) filterEligibleAuthors(interactions []models.Interaction) []models.Interaction {
	if w.opts.MinAuthorAccountAge <= 0 {
		return interactions
	}

	cutoff := w.now().Add(-w.opts.MinAuthorAccountAge)
	eligible := make([]models.Interaction, 0, len(interactions))
	for _, interaction := range interactions {
		author := interaction.Author
		if author == nil || author.CreatedAt.IsZero() || author.CreatedAt.After(cutoff) {
			logrus.WithField("interaction_id", interaction.InteractionID).Debug("Dropping interaction from ineligible author")
			continue
		}
		eligible = append(eligible, interaction)
	}
	return eligible
}

// resolveParents keeps interactions whose parent post belongs to account and is
// either in this batch, in the store, or fetchable. Fetched parents join posts.
func (w *Worker) resolveParents(ctx context.Context, source sources.ContentSource, account models.SocialAccount, posts []models.Post, interactions []models.Interaction) ([]models.Post, []models.Interaction, error) {
	owned := make(map[string]bool, len(posts))
	for _, post := range posts {
		owned[post.PostID] = true
	}

	var missing []string
	seen := make(map[string]bool)
	for _, interaction := range interactions {
		parent := interaction.PostID
		if owned[parent] || seen[parent] {
			continue
		}
		seen[parent] = true

		var stored *models.Post
		err := w.call(ctx, func(c context.Context) error {
			var gerr error
			stored, gerr = w.store.GetPostByID(c, account.Platform, parent)
			return gerr
		})
		switch {
		case err == nil:
			owned[parent] = stored.AccountID == account.AccountID
		case errors.Is(err, storage.ErrNotFound):
			missing = append(missing, parent)
		default:
			return nil, nil, err
		}
	}

	fetched := make([]*models.Post, len(missing))
	var g errgroup.Group
	g.SetLimit(parentFetchConcurrency)
	for i, id := range missing {
		i, id := i, id
		g.Go(func() error {
			return w.call(ctx, func(c context.Context) error {
				post, err := source.GetPost(c, id)
				fetched[i] = post
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to resolve parent posts: %w", err)
	}

	for _, post := range fetched {
		if post == nil || post.AccountID != account.AccountID {
			continue
		}
		owned[post.PostID] = true
		posts = append(posts, *post)
	}

	resolved := make([]models.Interaction, 0, len(interactions))
	for _, interaction := range interactions {
		if !owned[interaction.PostID] {
			logrus.WithFields(logrus.Fields{
				"interaction_id": interaction.InteractionID,
				"post_id":        interaction.PostID,
			}).Debug("Dropping interaction with unresolved parent")
			continue
		}
		resolved = append(resolved, interaction)
	}
	return posts, resolved, nil
}

func (w *Worker) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := retry.CallContext(ctx, w.opts.CallTimeout)
	defer cancel()
	return fn(callCtx)
}
