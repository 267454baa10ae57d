package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Template placeholders understood by Render
const (
	PlaceholderContent = "{tweet_text}"
	PlaceholderParent  = "{parent_text}"
	PlaceholderReply   = "{child_text}"
)

const (
	DefaultNuancePrompt = "You are evaluating a social media post for nuanced, balanced and well-reasoned thinking.\n\n" +
		"Post: {tweet_text}\n\n" +
		"Respond with only 'approve' if the post is nuanced, otherwise respond with only 'reject'."

	DefaultTopicPrompt = "Is the following post about %s?\n\n" +
		"Post: {tweet_text}\n\n" +
		"Respond with only 'true' or 'false'."

	DefaultSentimentPrompt = "Analyze the following Twitter conversation:\n\n" +
		"Original Tweet: {parent_text}\n\n" +
		"Reply: {child_text}\n\n" +
		"Is the reply positive, supportive, or constructive towards the original tweet? " +
		"Respond with only 'positive', 'neutral', or 'negative'."
)

// PromptStore serves judgment prompts fetched from a constitution repository.
// Prompts are refreshed at most once per refresh interval. A failed fetch
// keeps serving the last good copy and is retried on the next lookup; a
// configured topic that never fetched is reported as an error.
type PromptStore struct {
	baseURL string
	refresh time.Duration
	topics  []string
	client  *resty.Client

	mu        sync.RWMutex
	nuance    string
	byTopic   map[string]string
	missing   map[string]error
	updatedAt time.Time
}

// NewPromptStore creates a prompt store. An empty baseURL serves built-in defaults.
func NewPromptStore(baseURL string, topics []string, refresh time.Duration) *PromptStore {
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &PromptStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		refresh: refresh,
		topics:  append([]string(nil), topics...),
		client:  resty.New().SetTimeout(30 * time.Second),
	}
}

// Topics returns the configured topic names in order
func (s *PromptStore) Topics() []string {
	return append([]string(nil), s.topics...)
}

// NuancePrompt returns the post quality prompt template
func (s *PromptStore) NuancePrompt(ctx context.Context) (string, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nuance, nil
}

// TopicPrompt returns the relevance prompt template for topic
func (s *PromptStore) TopicPrompt(ctx context.Context, topic string) (string, bool, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.missing[topic]; ok {
		return "", false, err
	}
	prompt, ok := s.byTopic[topic]
	return prompt, ok, nil
}

// SentimentPrompt returns the reply tone prompt template
func (s *PromptStore) SentimentPrompt(context.Context) (string, error) {
	return DefaultSentimentPrompt, nil
}

func (s *PromptStore) stale() bool {
	return s.updatedAt.IsZero() || time.Since(s.updatedAt) > s.refresh
}

func (s *PromptStore) ensureFresh(ctx context.Context) error {
	s.mu.RLock()
	stale := s.stale()
	s.mu.RUnlock()
	if !stale {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock
	if !s.stale() {
		return nil
	}

	if s.baseURL == "" {
		s.nuance = DefaultNuancePrompt
		s.byTopic = make(map[string]string, len(s.topics))
		for _, topic := range s.topics {
			s.byTopic[topic] = fmt.Sprintf(DefaultTopicPrompt, strings.ReplaceAll(topic, "_", " "))
		}
		s.missing = nil
		s.updatedAt = time.Now()
		return nil
	}

	nuance, err := s.fetch(ctx, "post_evaluation_prompt.txt")
	if err != nil {
		if s.nuance != "" {
			logrus.Warnf("Failed to refresh prompts, serving cached copy: %v", err)
			return nil
		}
		return err
	}

	byTopic := make(map[string]string, len(s.topics))
	missing := make(map[string]error)
	complete := true
	for _, topic := range s.topics {
		prompt, err := s.fetch(ctx, fmt.Sprintf("topic_relevance_prompts/%s_prompt.txt", topic))
		if err != nil {
			complete = false
			logrus.Errorf("Failed to fetch prompt for topic %s: %v", topic, err)
			if old, ok := s.byTopic[topic]; ok {
				byTopic[topic] = old
			} else {
				missing[topic] = err
			}
			continue
		}
		byTopic[topic] = prompt
	}

	s.nuance = nuance
	s.byTopic = byTopic
	s.missing = missing
	if !complete {
		// Leave updatedAt alone so the next lookup fetches again
		return nil
	}
	s.updatedAt = time.Now()
	logrus.Infof("Prompts refreshed (%d topics)", len(byTopic))
	return nil
}

func (s *PromptStore) fetch(ctx context.Context, path string) (string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.baseURL + "/" + path)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrOracle, path, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("%w: fetch %s returned status %d", ErrOracle, path, resp.StatusCode())
	}
	return string(resp.Body()), nil
}

// Render substitutes placeholders in a prompt template
func Render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
