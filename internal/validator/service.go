package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nuance-network/nuance-validator/internal/cache"
	"github.com/nuance-network/nuance-validator/internal/config"
	"github.com/nuance-network/nuance-validator/internal/discovery"
	"github.com/nuance-network/nuance-validator/internal/ledger"
	"github.com/nuance-network/nuance-validator/internal/metrics"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/notifications"
	"github.com/nuance-network/nuance-validator/internal/oracle"
	"github.com/nuance-network/nuance-validator/internal/processing"
	"github.com/nuance-network/nuance-validator/internal/queue"
	"github.com/nuance-network/nuance-validator/internal/retry"
	"github.com/nuance-network/nuance-validator/internal/scheduler"
	"github.com/nuance-network/nuance-validator/internal/scoring"
	"github.com/nuance-network/nuance-validator/internal/sources"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/sirupsen/logrus"
)

// Job names accepted by Trigger
const (
	JobDiscovery   = "discovery"
	JobAggregation = "aggregation"
)

// Dependencies are the collaborators a validator is built from.
// Archive and Notifier are optional.
type Dependencies struct {
	Store    storage.Store
	Ledger   ledger.Ledger
	Sources  sources.Registry
	Oracle   oracle.Oracle
	Prompts  processing.PromptSource
	Archive  *storage.WeightArchive
	Notifier notifications.NotificationInterface
}

// Status is a point-in-time view of the processing state
type Status struct {
	Running             bool      `json:"running"`
	StartedAt           time.Time `json:"started_at,omitempty"`
	PostQueue           int       `json:"post_queue"`
	InteractionQueue    int       `json:"interaction_queue"`
	WaitingInteractions int       `json:"waiting_interactions"`
	CachedPosts         int       `json:"cached_posts"`
}

// Service owns the queues, the dependency cache and every worker
type Service struct {
	config *config.Config
	store  storage.Store

	posts        *queue.Queue[models.Post]
	interactions *queue.Queue[models.Interaction]
	cache        *cache.Cache

	postPipeline        *processing.Pipeline[models.Post]
	interactionPipeline *processing.Pipeline[processing.InteractionContext]
	checker             *processing.ContentChecker

	discovery  *discovery.Worker
	aggregator *scoring.Aggregator
	scheduler  *scheduler.Service
	policy     retry.Policy

	mu        sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	workers   sync.WaitGroup
	startedAt time.Time
}

// NewService wires a validator from configuration
func NewService(cfg *config.Config, deps Dependencies) *Service {
	posts := queue.New[models.Post](cfg.PostQueueCapacity).
		WithDepthGauge(metrics.QueueDepth.WithLabelValues(metrics.KindPost))
	interactions := queue.New[models.Interaction](cfg.InteractionQueueCapacity).
		WithDepthGauge(metrics.QueueDepth.WithLabelValues(metrics.KindInteraction))

	builder := processing.Builder{
		Oracle:  deps.Oracle,
		Prompts: deps.Prompts,
		Params:  oracle.Params{Model: cfg.OracleModel, MaxTokens: cfg.OracleMaxTokens},
		Topics:  cfg.Topics,
	}

	s := &Service{
		config:              cfg,
		store:               deps.Store,
		posts:               posts,
		interactions:        interactions,
		cache:               cache.New(deps.Store, interactions, cfg.CacheRetention, cfg.CacheCapacity),
		postPipeline:        builder.PostPipeline(),
		interactionPipeline: builder.InteractionPipeline(),
		checker:             builder.ContentChecker(),
		policy: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}

	s.discovery = discovery.NewWorker(deps.Ledger, deps.Store, deps.Sources, posts, interactions, discovery.Options{
		MinAuthorAccountAge: cfg.MinAuthorAccountAge,
		CallTimeout:         cfg.CallTimeout,
		InflightRetention:   cfg.InflightRetention,
	})

	s.aggregator = scoring.NewAggregator(deps.Store, deps.Ledger, scoring.NewCalculator(scoring.Weights{
		Topics:           cfg.TopicWeights,
		InteractionTypes: cfg.InteractionTypeWeights,
		EngagementSteps:  cfg.EngagementSteps,
		InfluenceScale:   cfg.InfluenceFollowersScale,
	}), deps.Archive, deps.Notifier, scoring.Options{
		Window:         cfg.ScoringWindow(),
		BurnHotkey:     cfg.BurnHotkey,
		BurnRatio:      cfg.BurnRatio,
		CallTimeout:    cfg.CallTimeout,
		NotifyOnSubmit: cfg.NotifyOnSubmit,
	})

	s.scheduler = scheduler.NewService(cfg.RunOnStart,
		scheduler.Job{Name: JobDiscovery, Interval: cfg.DiscoveryInterval, Run: func(ctx context.Context) error {
			_, err := s.discovery.RunCycle(ctx)
			return err
		}},
		scheduler.Job{Name: JobAggregation, Interval: cfg.AggregationInterval, Run: func(ctx context.Context) error {
			_, err := s.aggregator.Run(ctx)
			return err
		}},
	)

	return s
}

// Aggregator exposes the score aggregator for dry runs
func (s *Service) Aggregator() *scoring.Aggregator {
	return s.aggregator
}

// ContentChecker judges ad hoc text with the same oracle prompts as the pipelines
func (s *Service) ContentChecker() *processing.ContentChecker {
	return s.checker
}

// Start launches the processing workers and the scheduled jobs
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("validator already started")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now()

	for i := 0; i < s.config.PostWorkers; i++ {
		s.workers.Add(1)
		go s.runPostWorker(workerCtx, i)
	}
	for i := 0; i < s.config.InteractionWorkers; i++ {
		s.workers.Add(1)
		go s.runInteractionWorker(workerCtx, i)
	}

	if err := s.scheduler.Start(workerCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	logrus.Infof("Validator started with %d post workers and %d interaction workers",
		s.config.PostWorkers, s.config.InteractionWorkers)
	return nil
}

// Stop stops the schedule, closes the queues and waits for workers to finish
// their current item, or until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	if cancel == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.scheduler.Stop(ctx)
	s.posts.Close()
	s.interactions.Close()
	cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Validator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not stop in time: %w", ctx.Err())
	}
}

// Trigger starts a scheduled job out of band
func (s *Service) Trigger(job string) error {
	return s.scheduler.Trigger(job)
}

// Status reports queue depths and cache sizes
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:             s.cancel != nil && !s.stopped,
		StartedAt:           s.startedAt,
		PostQueue:           s.posts.Len(),
		InteractionQueue:    s.interactions.Len(),
		WaitingInteractions: s.cache.WaitingCount(),
		CachedPosts:         s.cache.ProcessedCount(),
	}
}

func (s *Service) runPostWorker(ctx context.Context, id int) {
	defer s.workers.Done()
	log := logrus.WithField("worker", fmt.Sprintf("post-%d", id))

	for ctx.Err() == nil {
		post, err := s.posts.Get(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Errorf("Post queue failed: %v", err)
			}
			break
		}
		s.processPost(ctx, post)
		metrics.WaitingInteractions.Set(float64(s.cache.WaitingCount()))
	}
	log.Debug("Post worker exiting")
}

func (s *Service) runInteractionWorker(ctx context.Context, id int) {
	defer s.workers.Done()
	log := logrus.WithField("worker", fmt.Sprintf("interaction-%d", id))

	for ctx.Err() == nil {
		interaction, err := s.interactions.Get(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Errorf("Interaction queue failed: %v", err)
			}
			break
		}
		s.processInteraction(ctx, interaction)
		metrics.WaitingInteractions.Set(float64(s.cache.WaitingCount()))
	}
	log.Debug("Interaction worker exiting")
}

// processPost judges a post, persists the outcome and releases its dependents.
// The current item always finishes, even during shutdown.
func (s *Service) processPost(ctx context.Context, post models.Post) {
	log := logrus.WithFields(logrus.Fields{"platform": post.Platform, "post_id": post.PostID})
	work := context.WithoutCancel(ctx)
	start := time.Now()

	result, err := retry.Do(work, s.policy, "post_pipeline", func(c context.Context) (processing.Result[models.Post], error) {
		callCtx, cancel := retry.CallContext(c, s.config.CallTimeout)
		defer cancel()
		return s.postPipeline.Process(callCtx, post)
	})
	metrics.ProcessingDuration.WithLabelValues(metrics.KindPost).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		log.Errorf("Post processing exhausted retries: %v", err)
		post.Status = models.StatusError
		post.ProcessingNote = err.Error()
	case result.Accepted():
		post = result.Output
		post.Status = models.StatusAccepted
		post.ProcessingNote = ""
		log.WithField("topics", post.Topics).Info("Post accepted")
	default:
		post = result.Output
		post.Status = models.StatusRejected
		post.ProcessingNote = result.Note()
		log.Infof("Post rejected: %s", post.ProcessingNote)
	}

	if err := s.persist(work, "upsert_post", func(c context.Context) error { return s.store.UpsertPost(c, post) }); err != nil {
		// Not advanced: stays pending in the store and is picked up by a later discovery
		log.Errorf("Failed to persist post result: %v", err)
		return
	}
	metrics.ItemsProcessed.WithLabelValues(metrics.KindPost, string(post.Status)).Inc()

	if released := s.cache.RecordPostResult(ctx, post); released > 0 {
		log.Infof("Released %d waiting interactions", released)
	}
}

// processInteraction resolves the parent post and either judges the
// interaction, rejects it with its parent, or parks it until the parent is done.
func (s *Service) processInteraction(ctx context.Context, interaction models.Interaction) {
	log := logrus.WithFields(logrus.Fields{
		"platform":       interaction.Platform,
		"interaction_id": interaction.InteractionID,
		"post_id":        interaction.PostID,
	})
	work := context.WithoutCancel(ctx)

	var (
		entry cache.PostEntry
		found bool
	)
	err := s.persist(work, "lookup_post", func(c context.Context) error {
		var lerr error
		entry, found, lerr = s.cache.LookupPost(c, interaction.Platform, interaction.PostID)
		return lerr
	})
	if err != nil {
		log.Errorf("Failed to resolve parent post: %v", err)
		return
	}

	if !found || !entry.Status.IsTerminal() {
		callCtx, cancel := retry.CallContext(work, s.config.CallTimeout)
		resolved := s.cache.AddWaiting(callCtx, interaction)
		cancel()
		if resolved == nil {
			log.Debug("Parent post not processed yet, waiting")
			return
		}
		entry = *resolved
	}

	switch entry.Status {
	case models.StatusAccepted:
		interaction = s.judgeInteraction(work, interaction, entry.Post, log)
	default:
		interaction.Status = models.StatusRejected
		interaction.ProcessingNote = fmt.Sprintf("parent post %s", entry.Status)
		log.Infof("Interaction rejected with its parent post (%s)", entry.Status)
	}

	if interaction.Author != nil {
		author := *interaction.Author
		if err := s.persist(work, "upsert_author", func(c context.Context) error { return s.store.UpsertSocialAccount(c, author) }); err != nil {
			log.Errorf("Failed to persist interaction author: %v", err)
			return
		}
	}

	if err := s.persist(work, "upsert_interaction", func(c context.Context) error { return s.store.UpsertInteraction(c, interaction) }); err != nil {
		log.Errorf("Failed to persist interaction result: %v", err)
		return
	}
	metrics.ItemsProcessed.WithLabelValues(metrics.KindInteraction, string(interaction.Status)).Inc()
}

func (s *Service) judgeInteraction(ctx context.Context, interaction models.Interaction, parent models.Post, log *logrus.Entry) models.Interaction {
	start := time.Now()
	input := processing.InteractionContext{Interaction: interaction, Parent: parent}

	result, err := retry.Do(ctx, s.policy, "interaction_pipeline", func(c context.Context) (processing.Result[processing.InteractionContext], error) {
		callCtx, cancel := retry.CallContext(c, s.config.CallTimeout)
		defer cancel()
		return s.interactionPipeline.Process(callCtx, input)
	})
	metrics.ProcessingDuration.WithLabelValues(metrics.KindInteraction).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		log.Errorf("Interaction processing exhausted retries: %v", err)
		interaction.Status = models.StatusError
		interaction.ProcessingNote = err.Error()
	case result.Accepted():
		interaction = result.Output.Interaction
		interaction.Status = models.StatusAccepted
		interaction.ProcessingNote = ""
		log.Info("Interaction accepted")
	default:
		interaction = result.Output.Interaction
		interaction.Status = models.StatusRejected
		interaction.ProcessingNote = result.Note()
		log.Infof("Interaction rejected: %s", interaction.ProcessingNote)
	}
	return interaction
}

// persist runs a store operation under the retry policy
func (s *Service) persist(ctx context.Context, name string, fn func(context.Context) error) error {
	_, err := retry.Do(ctx, s.policy, name, func(c context.Context) (struct{}, error) {
		callCtx, cancel := retry.CallContext(c, s.config.CallTimeout)
		defer cancel()
		return struct{}{}, fn(callCtx)
	})
	return err
}
