package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nuance-network/nuance-validator/internal/ledger"
	"github.com/nuance-network/nuance-validator/internal/metrics"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/notifications"
	"github.com/nuance-network/nuance-validator/internal/retry"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/sirupsen/logrus"
)

// Options tunes an aggregator
type Options struct {
	Window         time.Duration
	BurnHotkey     string
	BurnRatio      float64
	CallTimeout    time.Duration
	NotifyOnSubmit bool
}

// Aggregator periodically turns accepted interactions into ledger weights
type Aggregator struct {
	store    storage.Store
	ledger   ledger.Ledger
	calc     *Calculator
	archive  *storage.WeightArchive
	notifier notifications.NotificationInterface
	opts     Options

	mu  sync.Mutex
	now func() time.Time
}

// NewAggregator creates an aggregator. archive and notifier may be nil.
func NewAggregator(store storage.Store, l ledger.Ledger, calc *Calculator, archive *storage.WeightArchive, notifier notifications.NotificationInterface, opts Options) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = 7 * 24 * time.Hour
	}
	return &Aggregator{
		store:    store,
		ledger:   l,
		calc:     calc,
		archive:  archive,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// resolver memoizes store lookups for one aggregation pass
type resolver struct {
	a        *Aggregator
	ctx      context.Context
	accounts map[string]*models.SocialAccount
	posts    map[string]*models.Post
	nodes    map[string]*models.Node
}

func (r *resolver) call(fn func(context.Context) error) error {
	ctx, cancel := retry.CallContext(r.ctx, r.a.opts.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (r *resolver) account(platform models.PlatformType, id string) (*models.SocialAccount, error) {
	key := models.ContentKey(platform, id)
	if cached, ok := r.accounts[key]; ok {
		return cached, nil
	}
	var account *models.SocialAccount
	err := r.call(func(ctx context.Context) error {
		var gerr error
		account, gerr = r.a.store.GetSocialAccount(ctx, platform, id)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	r.accounts[key] = account
	return account, nil
}

func (r *resolver) post(platform models.PlatformType, id string) (*models.Post, error) {
	key := models.ContentKey(platform, id)
	if cached, ok := r.posts[key]; ok {
		return cached, nil
	}
	var post *models.Post
	err := r.call(func(ctx context.Context) error {
		var gerr error
		post, gerr = r.a.store.GetPostByID(ctx, platform, id)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	r.posts[key] = post
	return post, nil
}

func (r *resolver) node(hotkey string, netuid int) (*models.Node, error) {
	key := fmt.Sprintf("%d:%s", netuid, hotkey)
	if cached, ok := r.nodes[key]; ok {
		return cached, nil
	}
	var node *models.Node
	err := r.call(func(ctx context.Context) error {
		var gerr error
		node, gerr = r.a.store.GetNode(ctx, hotkey, netuid)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	r.nodes[key] = node
	return node, nil
}

var errBrokenChain = errors.New("unresolvable interaction chain")

// candidate resolves interaction -> author, post -> owner -> node
func (r *resolver) candidate(interaction models.Interaction) (Candidate, error) {
	author, err := r.account(interaction.Platform, interaction.AccountID)
	if err != nil {
		return Candidate{}, fmt.Errorf("author %s: %w", interaction.AccountID, err)
	}
	post, err := r.post(interaction.Platform, interaction.PostID)
	if err != nil {
		return Candidate{}, fmt.Errorf("post %s: %w", interaction.PostID, err)
	}
	if post.Status != models.StatusAccepted {
		return Candidate{}, fmt.Errorf("%w: post %s is %s", errBrokenChain, post.PostID, post.Status)
	}
	owner, err := r.account(post.Platform, post.AccountID)
	if err != nil {
		return Candidate{}, fmt.Errorf("owner %s: %w", post.AccountID, err)
	}
	if owner.NodeHotkey == "" || !owner.Verified {
		return Candidate{}, fmt.Errorf("%w: account %s is not linked to a node", errBrokenChain, owner.AccountID)
	}
	node, err := r.node(owner.NodeHotkey, owner.NodeNetuid)
	if err != nil {
		return Candidate{}, fmt.Errorf("node %s: %w", owner.NodeHotkey, err)
	}
	return Candidate{Interaction: interaction, Author: *author, Post: *post, Node: *node}, nil
}

// Compute builds the weight report for the current window without submitting it
func (a *Aggregator) Compute(ctx context.Context) (*models.WeightReport, error) {
	now := a.now().UTC()
	since := now.Add(-a.opts.Window)

	callCtx, cancel := retry.CallContext(ctx, a.opts.CallTimeout)
	interactions, err := a.store.GetRecentAcceptedInteractions(callCtx, since)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to load accepted interactions: %w", err)
	}

	r := &resolver{
		a:        a,
		ctx:      ctx,
		accounts: make(map[string]*models.SocialAccount),
		posts:    make(map[string]*models.Post),
		nodes:    make(map[string]*models.Node),
	}

	report := &models.WeightReport{GeneratedAt: now, WindowStart: since}
	candidates := make([]Candidate, 0, len(interactions))
	for _, interaction := range interactions {
		cand, err := r.candidate(interaction)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, errBrokenChain) {
			report.Skipped++
			logrus.WithFields(logrus.Fields{
				"interaction_id": interaction.InteractionID,
				"post_id":        interaction.PostID,
			}).Warnf("Skipping interaction from scoring: %v", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}

	scores, _ := a.calc.Score(candidates)
	report.Interactions = len(candidates)
	report.Scores = scores
	report.Weights = ApplyBurn(Normalize(scores), a.opts.BurnHotkey, a.opts.BurnRatio)
	return report, nil
}

// Run computes the weights and submits them as one vector. A failed submission
// leaves the previous on-chain weights in place until the next cycle.
func (a *Aggregator) Run(ctx context.Context) (*models.WeightReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.now()
	report, err := a.Compute(ctx)
	if err != nil {
		metrics.AggregationRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(report.Weights) == 0 {
		metrics.AggregationRuns.WithLabelValues("empty").Inc()
		logrus.Info("No scores in window and no burn hotkey configured, skipping weight submission")
		return report, nil
	}

	callCtx, cancel := retry.CallContext(ctx, a.opts.CallTimeout)
	err = a.ledger.SetWeights(callCtx, report.Weights)
	cancel()
	if err != nil {
		metrics.AggregationRuns.WithLabelValues("error").Inc()
		a.alert(report, err)
		return report, fmt.Errorf("failed to submit weights: %w", err)
	}

	report.Submitted = true
	metrics.AggregationRuns.WithLabelValues("submitted").Inc()
	metrics.ScoredNodes.Set(float64(len(report.Weights)))

	if a.archive != nil {
		archiveCtx, cancel := retry.CallContext(ctx, a.opts.CallTimeout)
		name, err := a.archive.Save(archiveCtx, report)
		cancel()
		if err != nil {
			logrus.Errorf("Failed to archive weight report: %v", err)
		} else {
			logrus.Debugf("Archived weight report as %s", name)
		}
	}

	if a.notifier != nil && a.opts.NotifyOnSubmit {
		if err := a.notifier.SendReport(report); err != nil {
			logrus.Errorf("Failed to send weight report: %v", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"interactions": report.Interactions,
		"skipped":      report.Skipped,
		"nodes":        len(report.Weights),
	}).Infof("Aggregation completed in %v", time.Since(start))
	return report, nil
}

func (a *Aggregator) alert(report *models.WeightReport, cause error) {
	if a.notifier == nil {
		return
	}
	alert := &models.Alert{
		ID:        fmt.Sprintf("weights-%d", report.GeneratedAt.Unix()),
		Type:      "critical",
		Title:     "Weight submission failed",
		Message:   fmt.Sprintf("Submitting weights for %d nodes failed: %v. Previous weights remain in effect.", len(report.Weights), cause),
		CreatedAt: report.GeneratedAt,
	}
	if err := a.notifier.SendAlert(alert); err != nil {
		logrus.Errorf("Failed to send submission alert: %v", err)
	}
}
