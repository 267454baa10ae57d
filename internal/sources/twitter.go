package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/sirupsen/logrus"
)

// twitterTimeLayout is the classic Twitter timestamp format
const twitterTimeLayout = time.RubyDate

// TwitterSource implements ContentSource on top of the Datura Twitter API
type TwitterSource struct {
	baseURL            string
	apiKey             string
	announcementPostID string
	client             *resty.Client
}

// Ensure TwitterSource implements ContentSource
var _ ContentSource = (*TwitterSource)(nil)

type twitterUser struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	CreatedAt      string `json:"created_at"`
	FollowersCount int    `json:"followers_count"`
	Verified       bool   `json:"verified"`
	BlueVerified   bool   `json:"is_blue_verified"`
	Description    string `json:"description"`
}

type twitterTweet struct {
	ID                string       `json:"id"`
	Text              string       `json:"text"`
	CreatedAt         string       `json:"created_at"`
	User              *twitterUser `json:"user"`
	InReplyToStatusID string       `json:"in_reply_to_status_id"`
	IsQuoteTweet      bool         `json:"is_quote_tweet"`
	QuotedStatusID    string       `json:"quoted_status_id"`
	LikeCount         int          `json:"like_count"`
	ReplyCount        int          `json:"reply_count"`
	RetweetCount      int          `json:"retweet_count"`
}

// NewTwitterSource creates a new Twitter source
func NewTwitterSource(baseURL, apiKey, announcementPostID string, timeout time.Duration) *TwitterSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TwitterSource{
		baseURL:            strings.TrimRight(baseURL, "/"),
		apiKey:             apiKey,
		announcementPostID: announcementPostID,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Nuance-Validator/1.0"),
	}
}

func (t *TwitterSource) Platform() models.PlatformType {
	return models.PlatformTwitter
}

func (t *TwitterSource) request(ctx context.Context) *resty.Request {
	return t.client.R().
		SetContext(ctx).
		SetHeader("Authorization", t.apiKey).
		SetHeader("Content-Type", "application/json")
}

func (t *TwitterSource) fetchTweet(ctx context.Context, id string) (*twitterTweet, error) {
	resp, err := t.request(ctx).
		SetQueryParam("id", id).
		Get(t.baseURL + "/twitter/post")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch post %s: %v", ErrContentSource, id, err)
	}

	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: fetch post %s returned status %d", ErrContentSource, id, resp.StatusCode())
	}

	var tweet twitterTweet
	if err := json.Unmarshal(resp.Body(), &tweet); err != nil {
		return nil, fmt.Errorf("%w: failed to parse post %s: %v", ErrContentSource, id, err)
	}
	if tweet.ID == "" {
		return nil, nil
	}
	return &tweet, nil
}

func (t *TwitterSource) search(ctx context.Context, query string) ([]twitterTweet, error) {
	resp, err := t.request(ctx).
		SetQueryParams(map[string]string{
			"query": query,
			"sort":  "Latest",
			"count": "100",
		}).
		Get(t.baseURL + "/twitter")
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %v", ErrContentSource, query, err)
	}

	// Handle rate limiting (429) as a transient failure for this account only
	if resp.StatusCode() == 429 {
		logrus.Warnf("Twitter API rate limit hit for query %q", query)
		return nil, fmt.Errorf("%w: rate limited", ErrContentSource)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: search %q returned status %d", ErrContentSource, query, resp.StatusCode())
	}

	var tweets []twitterTweet
	if err := json.Unmarshal(resp.Body(), &tweets); err != nil {
		return nil, fmt.Errorf("%w: failed to parse search response: %v", ErrContentSource, err)
	}

	logrus.Debugf("Twitter search %q returned %d tweets", query, len(tweets))
	return tweets, nil
}

// VerifyAccountOwnership checks that the verification post was written by the
// claimed account, mentions the node hotkey and quotes the announcement post.
func (t *TwitterSource) VerifyAccountOwnership(ctx context.Context, claim models.Claim, node models.Node) (*models.SocialAccount, error) {
	tweet, err := t.fetchTweet(ctx, claim.VerificationPostID)
	if err != nil {
		return nil, err
	}
	if tweet == nil || tweet.User == nil {
		return nil, fmt.Errorf("%w: verification post %s not found", ErrVerification, claim.VerificationPostID)
	}

	if claim.Username != "" && !strings.EqualFold(tweet.User.Username, claim.Username) {
		return nil, fmt.Errorf("%w: username mismatch: %s != %s", ErrVerification, tweet.User.Username, claim.Username)
	}
	if claim.AccountID != "" && tweet.User.ID != claim.AccountID {
		return nil, fmt.Errorf("%w: account id mismatch: %s != %s", ErrVerification, tweet.User.ID, claim.AccountID)
	}
	if !strings.Contains(tweet.Text, node.Hotkey) {
		return nil, fmt.Errorf("%w: hotkey %s not found in verification post", ErrVerification, node.Hotkey)
	}
	if t.announcementPostID != "" && (!tweet.IsQuoteTweet || tweet.QuotedStatusID != t.announcementPostID) {
		return nil, fmt.Errorf("%w: verification post does not quote the announcement", ErrVerification)
	}

	account := toSocialAccount(tweet.User)
	account.NodeHotkey = node.Hotkey
	account.NodeNetuid = node.Netuid
	account.Verified = true
	return &account, nil
}

// DiscoverNewPosts returns the account's recent original posts
func (t *TwitterSource) DiscoverNewPosts(ctx context.Context, account models.SocialAccount) ([]models.Post, error) {
	tweets, err := t.search(ctx, "from:"+account.Username)
	if err != nil {
		return nil, err
	}

	posts := make([]models.Post, 0, len(tweets))
	for _, tweet := range tweets {
		post, err := toPost(&tweet)
		if err != nil {
			logrus.Warnf("Skipping malformed tweet %s: %v", tweet.ID, err)
			continue
		}
		if post.AccountID != account.AccountID {
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// DiscoverNewInteractions returns recent replies to and quotes of the account
func (t *TwitterSource) DiscoverNewInteractions(ctx context.Context, account models.SocialAccount) ([]models.Interaction, error) {
	replies, err := t.search(ctx, "to:"+account.Username)
	if err != nil {
		return nil, err
	}
	quotes, err := t.search(ctx, "quoted_user_id:"+account.AccountID)
	if err != nil {
		return nil, err
	}

	interactions := make([]models.Interaction, 0, len(replies)+len(quotes))
	for _, tweet := range append(replies, quotes...) {
		interaction, err := toInteraction(&tweet)
		if err != nil {
			logrus.Warnf("Skipping malformed interaction %s: %v", tweet.ID, err)
			continue
		}
		// Self-replies and threads do not count as community interactions
		if interaction.AccountID == account.AccountID {
			continue
		}
		interactions = append(interactions, interaction)
	}
	return interactions, nil
}

// GetPost fetches a single post by id
func (t *TwitterSource) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	tweet, err := t.fetchTweet(ctx, postID)
	if err != nil || tweet == nil {
		return nil, err
	}
	post, err := toPost(tweet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentSource, err)
	}
	return &post, nil
}

func parseTwitterTime(value string) (time.Time, error) {
	ts, err := time.Parse(twitterTimeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func toSocialAccount(user *twitterUser) models.SocialAccount {
	account := models.SocialAccount{
		Platform:       models.PlatformTwitter,
		AccountID:      user.ID,
		Username:       user.Username,
		FollowersCount: user.FollowersCount,
		ExtraData: map[string]any{
			"name":             user.Name,
			"verified":         user.Verified,
			"is_blue_verified": user.BlueVerified,
		},
	}
	if created, err := parseTwitterTime(user.CreatedAt); err == nil {
		account.CreatedAt = created
	}
	return account
}

func toPost(tweet *twitterTweet) (models.Post, error) {
	if tweet.User == nil {
		return models.Post{}, fmt.Errorf("tweet %s has no author", tweet.ID)
	}
	created, err := parseTwitterTime(tweet.CreatedAt)
	if err != nil {
		return models.Post{}, fmt.Errorf("bad created_at: %w", err)
	}
	return models.Post{
		Platform:  models.PlatformTwitter,
		PostID:    tweet.ID,
		AccountID: tweet.User.ID,
		Content:   tweet.Text,
		CreatedAt: created,
		Status:    models.StatusPending,
		ExtraData: map[string]any{
			"like_count":    tweet.LikeCount,
			"reply_count":   tweet.ReplyCount,
			"retweet_count": tweet.RetweetCount,
			"username":      tweet.User.Username,
		},
	}, nil
}

func toInteraction(tweet *twitterTweet) (models.Interaction, error) {
	if tweet.User == nil {
		return models.Interaction{}, fmt.Errorf("tweet %s has no author", tweet.ID)
	}
	created, err := parseTwitterTime(tweet.CreatedAt)
	if err != nil {
		return models.Interaction{}, fmt.Errorf("bad created_at: %w", err)
	}

	kind, parent := models.InteractionReply, tweet.InReplyToStatusID
	if tweet.IsQuoteTweet {
		kind, parent = models.InteractionQuote, tweet.QuotedStatusID
	}
	if parent == "" {
		return models.Interaction{}, fmt.Errorf("tweet %s has no parent post", tweet.ID)
	}

	author := toSocialAccount(tweet.User)
	return models.Interaction{
		InteractionID: tweet.ID,
		Platform:      models.PlatformTwitter,
		Type:          kind,
		AccountID:     tweet.User.ID,
		PostID:        parent,
		Content:       tweet.Text,
		CreatedAt:     created,
		Status:        models.StatusPending,
		ExtraData:     map[string]any{"username": tweet.User.Username},
		Author:        &author,
	}, nil
}
