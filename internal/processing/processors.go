package processing

import (
	"context"
	"strings"

	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/oracle"
	"github.com/sirupsen/logrus"
)

// PromptSource provides judgment prompt templates
type PromptSource interface {
	NuancePrompt(ctx context.Context) (string, error)
	TopicPrompt(ctx context.Context, topic string) (string, bool, error)
	SentimentPrompt(ctx context.Context) (string, error)
}

// InteractionContext pairs an interaction with its resolved parent post
type InteractionContext struct {
	Interaction models.Interaction
	Parent      models.Post
}

func normalizeVerdict(resp string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(resp)), ".'\"")
}

// NuanceChecker accepts posts the judgment service approves
type NuanceChecker struct {
	oracle  oracle.Oracle
	prompts PromptSource
	params  oracle.Params
}

var _ Processor[models.Post] = (*NuanceChecker)(nil)

func NewNuanceChecker(o oracle.Oracle, prompts PromptSource, params oracle.Params) *NuanceChecker {
	return &NuanceChecker{oracle: o, prompts: prompts, params: params}
}

func (n *NuanceChecker) Name() string { return "nuance_checker" }

func (n *NuanceChecker) Process(ctx context.Context, post models.Post) (Result[models.Post], error) {
	template, err := n.prompts.NuancePrompt(ctx)
	if err != nil {
		return Result[models.Post]{}, err
	}

	resp, err := n.oracle.Query(ctx, oracle.Render(template, map[string]string{
		oracle.PlaceholderContent: post.Content,
	}), n.params)
	if err != nil {
		return Result[models.Post]{}, err
	}

	if normalizeVerdict(resp) != "approve" {
		logrus.WithField("post_id", post.PostID).Info("Post is not nuanced")
		res := Reject(n.Name(), post, "content lacks nuance")
		res.Details = map[string]any{"llm_response": resp}
		return res, nil
	}

	logrus.WithField("post_id", post.PostID).Debug("Post is nuanced")
	return Accept(n.Name(), post, map[string]any{"nuance_status": "approved"}), nil
}

// TopicTagger classifies a post against each configured topic.
// A post matching no topic is still accepted.
type TopicTagger struct {
	oracle  oracle.Oracle
	prompts PromptSource
	params  oracle.Params
	topics  []string
}

var _ Processor[models.Post] = (*TopicTagger)(nil)

func NewTopicTagger(o oracle.Oracle, prompts PromptSource, params oracle.Params, topics []string) *TopicTagger {
	return &TopicTagger{oracle: o, prompts: prompts, params: params, topics: append([]string(nil), topics...)}
}

func (t *TopicTagger) Name() string { return "topic_tagger" }

func (t *TopicTagger) Process(ctx context.Context, post models.Post) (Result[models.Post], error) {
	topics := make([]string, 0, len(t.topics))
	for _, topic := range t.topics {
		template, ok, err := t.prompts.TopicPrompt(ctx, topic)
		if err != nil {
			return Result[models.Post]{}, err
		}
		if !ok {
			logrus.Warnf("No prompt available for topic %q", topic)
			continue
		}

		resp, err := t.oracle.Query(ctx, oracle.Render(template, map[string]string{
			oracle.PlaceholderContent: post.Content,
		}), t.params)
		if err != nil {
			return Result[models.Post]{}, err
		}
		if normalizeVerdict(resp) == "true" {
			topics = append(topics, topic)
		}
	}

	post.Topics = topics
	logrus.WithField("post_id", post.PostID).Infof("Post tagged with %d topics", len(topics))
	return Accept(t.Name(), post, map[string]any{"topics": topics, "topic_count": len(topics)}), nil
}

// SentimentAnalyzer rejects replies that are negative towards their parent post
type SentimentAnalyzer struct {
	oracle  oracle.Oracle
	prompts PromptSource
	params  oracle.Params
}

var _ Processor[InteractionContext] = (*SentimentAnalyzer)(nil)

func NewSentimentAnalyzer(o oracle.Oracle, prompts PromptSource, params oracle.Params) *SentimentAnalyzer {
	return &SentimentAnalyzer{oracle: o, prompts: prompts, params: params}
}

func (s *SentimentAnalyzer) Name() string { return "sentiment_analyzer" }

func (s *SentimentAnalyzer) Process(ctx context.Context, in InteractionContext) (Result[InteractionContext], error) {
	template, err := s.prompts.SentimentPrompt(ctx)
	if err != nil {
		return Result[InteractionContext]{}, err
	}

	resp, err := s.oracle.Query(ctx, oracle.Render(template, map[string]string{
		oracle.PlaceholderParent: in.Parent.Content,
		oracle.PlaceholderReply:  in.Interaction.Content,
	}), s.params)
	if err != nil {
		return Result[InteractionContext]{}, err
	}

	sentiment := normalizeVerdict(resp)
	in.Interaction.ExtraData = models.CloneExtra(in.Interaction.ExtraData)
	in.Interaction.ExtraData["sentiment"] = sentiment

	if sentiment == "negative" {
		logrus.WithField("interaction_id", in.Interaction.InteractionID).Info("Interaction has negative sentiment")
		return Reject(s.Name(), in, "negative sentiment"), nil
	}

	return Accept(s.Name(), in, map[string]any{"sentiment": sentiment}), nil
}
