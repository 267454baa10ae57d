package scoring

import (
	"math"
	"sort"

	"github.com/nuance-network/nuance-validator/internal/models"
)

// DefaultTopic is the topic weight applied to posts with no classified topic
const DefaultTopic = "other"

// Weights holds the tunable scoring tables
type Weights struct {
	Topics           map[string]float64
	InteractionTypes map[string]float64

	// EngagementSteps is the cumulative contribution after n interactions from
	// one account to one node. The last step is the per-pair ceiling.
	EngagementSteps []float64

	// InfluenceScale is the follower count at which influence saturates
	InfluenceScale float64
}

// Candidate is an accepted interaction with its resolved chain
type Candidate struct {
	Interaction models.Interaction
	Author      models.SocialAccount
	Post        models.Post
	Node        models.Node
}

// Contribution is the scored share of one interaction
type Contribution struct {
	InteractionID string  `json:"interaction_id"`
	Hotkey        string  `json:"hotkey"`
	Engagement    float64 `json:"engagement"`
	Type          float64 `json:"type"`
	Influence     float64 `json:"influence"`
	Topic         float64 `json:"topic"`
	Score         float64 `json:"score"`
}

// Calculator turns candidates into per-node raw scores
type Calculator struct {
	weights Weights
}

func NewCalculator(w Weights) *Calculator {
	if w.InfluenceScale <= 0 {
		w.InfluenceScale = 10000
	}
	return &Calculator{weights: w}
}

// EngagementFactor returns the marginal contribution of the nth (1-based)
// interaction from one account toward one node.
func (c *Calculator) EngagementFactor(n int) float64 {
	steps := c.weights.EngagementSteps
	if n < 1 || n > len(steps) {
		return 0
	}
	if n == 1 {
		return steps[0]
	}
	return steps[n-1] - steps[n-2]
}

// TypeWeight returns the multiplier of an interaction type. Unknown types score zero.
func (c *Calculator) TypeWeight(t models.InteractionType) float64 {
	return c.weights.InteractionTypes[string(t)]
}

// InfluenceWeight is 1 + min(1, followers/scale)
func (c *Calculator) InfluenceWeight(followers int) float64 {
	if followers < 0 {
		followers = 0
	}
	return 1 + math.Min(1, float64(followers)/c.weights.InfluenceScale)
}

// TopicWeight takes the highest weight among topics
func (c *Calculator) TopicWeight(topics []string) float64 {
	if len(topics) == 0 {
		return c.weights.Topics[DefaultTopic]
	}
	best := 0.0
	for i, topic := range topics {
		w, ok := c.weights.Topics[topic]
		if !ok {
			w = c.weights.Topics[DefaultTopic]
		}
		if i == 0 || w > best {
			best = w
		}
	}
	return best
}

// Score computes every contribution and the per-node sums. Candidates are
// ordered by creation time, then id, so the result is reproducible.
func (c *Calculator) Score(candidates []Candidate) (map[string]float64, []Contribution) {
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Interaction, ordered[j].Interaction
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Key() < b.Key()
	})

	seen := make(map[string]int)
	scores := make(map[string]float64)
	contributions := make([]Contribution, 0, len(ordered))

	for _, cand := range ordered {
		pair := models.ContentKey(cand.Author.Platform, cand.Author.AccountID) + "->" + cand.Node.Hotkey
		seen[pair]++

		contrib := Contribution{
			InteractionID: cand.Interaction.InteractionID,
			Hotkey:        cand.Node.Hotkey,
			Engagement:    c.EngagementFactor(seen[pair]),
			Type:          c.TypeWeight(cand.Interaction.Type),
			Influence:     c.InfluenceWeight(cand.Author.FollowersCount),
			Topic:         c.TopicWeight(cand.Post.Topics),
		}
		contrib.Score = contrib.Engagement * contrib.Type * contrib.Influence * contrib.Topic

		scores[cand.Node.Hotkey] += contrib.Score
		contributions = append(contributions, contrib)
	}

	return scores, contributions
}

// Normalize divides every score by the total. Non-positive scores are dropped;
// an empty or all-zero input yields an empty vector.
func Normalize(scores map[string]float64) map[string]float64 {
	hotkeys := make([]string, 0, len(scores))
	for hotkey, score := range scores {
		if score > 0 {
			hotkeys = append(hotkeys, hotkey)
		}
	}
	sort.Strings(hotkeys)

	total := 0.0
	for _, hotkey := range hotkeys {
		total += scores[hotkey]
	}

	weights := make(map[string]float64, len(hotkeys))
	if total <= 0 {
		return weights
	}
	for _, hotkey := range hotkeys {
		weights[hotkey] = scores[hotkey] / total
	}
	return weights
}

// ApplyBurn reserves ratio of the vector for burnHotkey, or all of it when the
// vector is empty. Without a burn hotkey the input is returned unchanged.
func ApplyBurn(weights map[string]float64, burnHotkey string, ratio float64) map[string]float64 {
	if burnHotkey == "" {
		return weights
	}
	if len(weights) == 0 {
		return map[string]float64{burnHotkey: 1}
	}
	if ratio <= 0 {
		return weights
	}

	out := make(map[string]float64, len(weights)+1)
	for hotkey, w := range weights {
		out[hotkey] = w * (1 - ratio)
	}
	out[burnHotkey] += ratio
	return out
}
