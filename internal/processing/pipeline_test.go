package processing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stage struct {
	name   string
	status models.ProcessingStatus
	err    error
	calls  int
	append string
}

func (s *stage) Name() string { return s.name }

func (s *stage) Process(_ context.Context, in string) (Result[string], error) {
	s.calls++
	if s.err != nil {
		return Result[string]{}, s.err
	}
	out := in + s.append
	if s.status == models.StatusRejected {
		return Reject(s.name, out, s.name+" said no"), nil
	}
	return Accept(s.name, out, map[string]any{s.name: true}), nil
}

func TestPipeline_ShortCircuitOnRejection(t *testing.T) {
	a := &stage{name: "a", status: models.StatusRejected}
	b := &stage{name: "b", status: models.StatusAccepted}

	res, err := NewPipeline[string](a, b).Process(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, "a said no", res.Reason)
	assert.Equal(t, "a: a said no", res.Note())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestPipeline_StopsOnError(t *testing.T) {
	boom := errors.New("unreachable")
	a := &stage{name: "a", err: boom}
	b := &stage{name: "b", status: models.StatusAccepted}

	res, err := NewPipeline[string](a, b).Process(context.Background(), "x")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, "a", res.Processor)
	assert.Equal(t, 0, b.calls)
}

func TestPipeline_AllAcceptAccumulates(t *testing.T) {
	a := &stage{name: "a", status: models.StatusAccepted, append: "-a"}
	b := &stage{name: "b", status: models.StatusAccepted, append: "-b"}

	pipeline := NewPipeline[string](a, b)
	res, err := pipeline.Process(context.Background(), "x")

	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, "x-a-b", res.Output)
	assert.Equal(t, "b", res.Processor)
	assert.Equal(t, map[string]any{"a": true, "b": true}, res.Details)
	assert.Equal(t, []string{"a", "b"}, pipeline.Names())
}

func TestPipeline_Empty(t *testing.T) {
	res, err := NewPipeline[string]().Process(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, "x", res.Output)
}

// MockOracle is a mock implementation of oracle.Oracle
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Query(ctx context.Context, prompt string, params oracle.Params) (string, error) {
	args := m.Called(ctx, prompt, params)
	return args.String(0), args.Error(1)
}

func promptContaining(s string) any {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, s) })
}

func newBuilder(o oracle.Oracle, topics ...string) Builder {
	return Builder{
		Oracle:  o,
		Prompts: oracle.NewPromptStore("", topics, 0),
		Params:  oracle.Params{Model: "m"},
		Topics:  topics,
	}
}

func TestPostPipeline_RejectedPostSkipsTopics(t *testing.T) {
	o := new(MockOracle)
	o.On("Query", mock.Anything, promptContaining("nuanced"), mock.Anything).Return("Reject", nil).Once()

	post := models.Post{PostID: "1", Content: "hot take"}
	res, err := newBuilder(o, "governance").PostPipeline().Process(context.Background(), post)

	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, "nuance_checker", res.Processor)
	o.AssertNumberOfCalls(t, "Query", 1)
}

func TestPostPipeline_AcceptedPostIsTagged(t *testing.T) {
	o := new(MockOracle)
	o.On("Query", mock.Anything, promptContaining("nuanced"), mock.Anything).Return("approve", nil).Once()
	o.On("Query", mock.Anything, promptContaining("about governance"), mock.Anything).Return("True", nil).Once()
	o.On("Query", mock.Anything, promptContaining("about bittensor"), mock.Anything).Return("false", nil).Once()

	post := models.Post{PostID: "1", Content: "a careful thread"}
	res, err := newBuilder(o, "governance", "bittensor").PostPipeline().Process(context.Background(), post)

	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, []string{"governance"}, res.Output.Topics)
	assert.Equal(t, "approved", res.Details["nuance_status"])
	assert.Equal(t, 1, res.Details["topic_count"])
	o.AssertExpectations(t)
}

func TestPostPipeline_OracleFailureIsError(t *testing.T) {
	o := new(MockOracle)
	o.On("Query", mock.Anything, mock.Anything, mock.Anything).Return("", oracle.ErrOracle)

	_, err := newBuilder(o).PostPipeline().Process(context.Background(), models.Post{PostID: "1"})
	assert.ErrorIs(t, err, oracle.ErrOracle)
}

func TestInteractionPipeline_Sentiment(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected models.ProcessingStatus
	}{
		{name: "Positive", response: "positive", expected: models.StatusAccepted},
		{name: "Neutral", response: "Neutral.", expected: models.StatusAccepted},
		{name: "Negative", response: "NEGATIVE", expected: models.StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := new(MockOracle)
			o.On("Query", mock.Anything, promptContaining("Reply: nice thread"), mock.Anything).Return(tt.response, nil)

			extra := map[string]any{"source": "search"}
			in := InteractionContext{
				Interaction: models.Interaction{InteractionID: "2", Content: "nice thread", ExtraData: extra},
				Parent:      models.Post{PostID: "1", Content: "original"},
			}
			res, err := newBuilder(o).InteractionPipeline().Process(context.Background(), in)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, res.Status)
			assert.NotEmpty(t, res.Output.Interaction.ExtraData["sentiment"])
			assert.NotContains(t, extra, "sentiment", "caller's map is left untouched")
		})
	}
}

func TestContentChecker(t *testing.T) {
	o := new(MockOracle)
	o.On("Query", mock.Anything, promptContaining("a careful thread"), mock.Anything).Return("approve", nil).Once()
	o.On("Query", mock.Anything, promptContaining("hot take"), mock.Anything).Return("reject", nil).Once()
	o.On("Query", mock.Anything, promptContaining("about governance"), mock.Anything).Return("true", nil).Once()

	checker := newBuilder(o, "governance").ContentChecker()
	ctx := context.Background()

	nuanced, err := checker.CheckNuance(ctx, "a careful thread")
	require.NoError(t, err)
	assert.True(t, nuanced)

	nuanced, err = checker.CheckNuance(ctx, "hot take")
	require.NoError(t, err)
	assert.False(t, nuanced)

	matches, valid, err := checker.CheckTopic(ctx, "voting on proposals", "governance")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.True(t, matches)

	// Unconfigured topics never reach the oracle
	matches, valid, err = checker.CheckTopic(ctx, "voting on proposals", "sports")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.False(t, matches)

	o.AssertExpectations(t)
}
