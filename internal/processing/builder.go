package processing

import (
	"context"
	"slices"

	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/oracle"
)

// Builder assembles the pipelines once at startup
type Builder struct {
	Oracle  oracle.Oracle
	Prompts PromptSource
	Params  oracle.Params
	Topics  []string
}

// PostPipeline judges quality first, then classifies topics
func (b Builder) PostPipeline() *Pipeline[models.Post] {
	return NewPipeline[models.Post](
		NewNuanceChecker(b.Oracle, b.Prompts, b.Params),
		NewTopicTagger(b.Oracle, b.Prompts, b.Params, b.Topics),
	)
}

// InteractionPipeline judges a reply against its parent post
func (b Builder) InteractionPipeline() *Pipeline[InteractionContext] {
	return NewPipeline[InteractionContext](
		NewSentimentAnalyzer(b.Oracle, b.Prompts, b.Params),
	)
}

// ContentChecker runs the post judgments on free text, outside any pipeline
type ContentChecker struct {
	nuance  *NuanceChecker
	builder Builder
}

// ContentChecker builds a checker sharing the pipelines' oracle and prompts
func (b Builder) ContentChecker() *ContentChecker {
	return &ContentChecker{nuance: NewNuanceChecker(b.Oracle, b.Prompts, b.Params), builder: b}
}

// CheckNuance reports whether content passes the nuance judgment
func (c *ContentChecker) CheckNuance(ctx context.Context, content string) (bool, error) {
	res, err := c.nuance.Process(ctx, models.Post{PostID: "adhoc", Content: content})
	if err != nil {
		return false, err
	}
	return res.Accepted(), nil
}

// CheckTopic reports whether content is about topic. valid is false, and no
// judgment is made, for a topic that is not configured.
func (c *ContentChecker) CheckTopic(ctx context.Context, content, topic string) (matches, valid bool, err error) {
	if !slices.Contains(c.builder.Topics, topic) {
		return false, false, nil
	}
	tagger := NewTopicTagger(c.builder.Oracle, c.builder.Prompts, c.builder.Params, []string{topic})
	res, err := tagger.Process(ctx, models.Post{PostID: "adhoc", Content: content})
	if err != nil {
		return false, true, err
	}
	return len(res.Output.Topics) == 1, true, nil
}
