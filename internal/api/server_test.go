package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeScores struct {
	report *models.WeightReport
	err    error
	calls  int
}

func (f *fakeScores) Compute(context.Context) (*models.WeightReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeChecker struct {
	nuanced bool
	err     error
}

func (f *fakeChecker) CheckNuance(context.Context, string) (bool, error) {
	return f.nuanced, f.err
}

func (f *fakeChecker) CheckTopic(_ context.Context, content, topic string) (bool, bool, error) {
	if f.err != nil {
		return false, false, f.err
	}
	if topic != "bittensor" {
		return false, false, nil
	}
	return strings.Contains(content, "subnet"), true, nil
}

func seed(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.UpsertNode(ctx, models.Node{Hotkey: "hk1", Netuid: 23}))
	require.NoError(t, store.UpsertSocialAccount(ctx, models.SocialAccount{
		Platform: models.PlatformTwitter, AccountID: "a1", Username: "alice",
		NodeHotkey: "hk1", NodeNetuid: 23, Verified: true,
	}))
	require.NoError(t, store.UpsertSocialAccount(ctx, models.SocialAccount{
		Platform: models.PlatformTwitter, AccountID: "a2", Username: "bob",
	}))

	posts := []models.Post{
		{Platform: models.PlatformTwitter, PostID: "p1", AccountID: "a1", Content: "first", Topics: []string{"bittensor"},
			CreatedAt: testNow.Add(-27 * time.Hour), Status: models.StatusAccepted},
		{Platform: models.PlatformTwitter, PostID: "p2", AccountID: "a1", Content: "second",
			CreatedAt: testNow.Add(-51 * time.Hour), Status: models.StatusAccepted},
		{Platform: models.PlatformTwitter, PostID: "p3", AccountID: "a1", Content: "third",
			CreatedAt: testNow.Add(-75 * time.Hour), Status: models.StatusPending},
		{Platform: models.PlatformTwitter, PostID: "old", AccountID: "a1", Content: "ancient",
			CreatedAt: testNow.AddDate(0, -2, 0), Status: models.StatusAccepted},
	}
	for _, p := range posts {
		require.NoError(t, store.UpsertPost(ctx, p))
	}

	interactions := []models.Interaction{
		{Platform: models.PlatformTwitter, InteractionID: "i1", Type: models.InteractionReply, PostID: "p1", AccountID: "a2",
			Content: "good point", CreatedAt: testNow.Add(-2 * time.Hour), Status: models.StatusAccepted},
		{Platform: models.PlatformTwitter, InteractionID: "i2", Type: models.InteractionQuote, PostID: "p2", AccountID: "a2",
			Content: "hmm", CreatedAt: testNow.Add(-3 * time.Hour), Status: models.StatusPending},
	}
	for _, i := range interactions {
		require.NoError(t, store.UpsertInteraction(ctx, i))
	}
	return store
}

func newTestRouter(store storage.Store, scores ScoreSource, checker ContentChecker) *mux.Router {
	srv := NewServer(store, scores, checker, Options{Netuid: 23, Window: 14 * 24 * time.Hour, ChecksPerMin: 2})
	srv.now = func() time.Time { return testNow }
	r := mux.NewRouter()
	srv.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func postIDs(posts []PostResponse) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.PostID)
	}
	return ids
}

func TestServer_RecentPosts(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "defaults keep fully scored posts", query: "", want: []string{"p1"}},
		{name: "unscored included on request", query: "?only_scored=false", want: []string{"p1", "p2"}},
		{name: "posts without interactions", query: "?only_scored=false&min_interactions=0", want: []string{"p1", "p2", "p3"}},
		{name: "explicit cutoff", query: "?only_scored=false&cutoff_date=2026-03-09", want: []string{"p1"}},
		{name: "cutoff before everything", query: "?only_scored=false&min_interactions=0&cutoff_date=2025-01-01", want: []string{"p1", "p2", "p3", "old"}},
		{name: "pagination", query: "?only_scored=false&min_interactions=0&skip=1&limit=1", want: []string{"p2"}},
		{name: "skip past the end", query: "?skip=10", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, "GET", "/posts/twitter/recent"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, postIDs(decode[[]PostResponse](t, rec)))
		})
	}
}

func TestServer_RecentPostsRejectsBadParameters(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	for _, query := range []string{
		"?cutoff_date=yesterday",
		"?limit=0",
		"?limit=201",
		"?skip=-1",
		"?min_interactions=x",
		"?only_scored=maybe",
	} {
		rec := do(t, r, "GET", "/posts/twitter/recent"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestServer_GetPost(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	rec := do(t, r, "GET", "/posts/twitter/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	post := decode[PostResponse](t, rec)
	assert.Equal(t, "first", post.Content)
	assert.Equal(t, 1, post.InteractionCount)
	assert.Equal(t, models.StatusAccepted, post.Status)

	rec = do(t, r, "GET", "/posts/twitter/p3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{}, decode[PostResponse](t, rec).Topics)

	rec = do(t, r, "GET", "/posts/twitter/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "post not found")
}

func TestServer_PostInteractions(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	rec := do(t, r, "GET", "/posts/twitter/p2/interactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	interactions := decode[[]InteractionResponse](t, rec)
	require.Len(t, interactions, 1)
	assert.Equal(t, "i2", interactions[0].InteractionID)
	assert.Equal(t, models.StatusPending, interactions[0].Status)

	rec = do(t, r, "GET", "/posts/twitter/p3/interactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]InteractionResponse](t, rec))

	rec = do(t, r, "GET", "/posts/twitter/missing/interactions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Interactions(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	rec := do(t, r, "GET", "/interactions/twitter/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]InteractionResponse](t, rec)
	require.Len(t, recent, 1, "only accepted interactions are listed")
	assert.Equal(t, "i1", recent[0].InteractionID)

	rec = do(t, r, "GET", "/interactions/twitter/recent?cutoff_date=2026-03-10T11:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]InteractionResponse](t, rec))

	rec = do(t, r, "GET", "/interactions/twitter/i2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.InteractionQuote, decode[InteractionResponse](t, rec).Type)

	rec = do(t, r, "GET", "/interactions/twitter/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_VerifyAccount(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	tests := []struct {
		account  string
		username string
		verified bool
	}{
		{account: "a1", username: "alice", verified: true},
		{account: "a2", username: "bob", verified: false},
		{account: "ghost", username: "unknown", verified: false},
	}
	for _, tt := range tests {
		t.Run(tt.account, func(t *testing.T) {
			rec := do(t, r, "GET", "/accounts/verify/twitter/"+tt.account, "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[AccountVerificationResponse](t, rec)
			assert.Equal(t, tt.username, resp.Username)
			assert.Equal(t, tt.verified, resp.IsVerified)
		})
	}
}

func TestServer_VerifyAccountNeedsKnownNode(t *testing.T) {
	store := seed(t)
	require.NoError(t, store.UpsertSocialAccount(context.Background(), models.SocialAccount{
		Platform: models.PlatformTwitter, AccountID: "a3", Username: "carol",
		NodeHotkey: "deregistered", NodeNetuid: 23, Verified: true,
	}))
	r := newTestRouter(store, &fakeScores{}, nil)

	rec := do(t, r, "GET", "/accounts/verify/twitter/a3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[AccountVerificationResponse](t, rec).IsVerified)
}

func TestServer_TopPosts(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	rec := do(t, r, "GET", "/stats/top-posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TopPostsResponse](t, rec)
	assert.Equal(t, "2026-03-03 to 2026-03-10", resp.Period)
	require.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, "p1", resp.Posts[0].PostID)
	assert.Equal(t, "alice", resp.Posts[0].Handle)
	assert.Equal(t, "2026-03-09", resp.Posts[0].Date)
	assert.Equal(t, 1, resp.Posts[0].Accepted)
	assert.Equal(t, 0, resp.Posts[1].Accepted)

	rec = do(t, r, "GET", "/stats/top-posts?start_date=2026-03-09&end_date=2026-03-09", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[TopPostsResponse](t, rec)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "p1", resp.Posts[0].PostID)

	rec = do(t, r, "GET", "/stats/top-posts?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[TopPostsResponse](t, rec).TotalCount)
}

func TestServer_TopPostsRejectsBadDates(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	for _, query := range []string{
		"?start_date=03/01/2026",
		"?end_date=soon",
		"?start_date=2026-03-10&end_date=2026-03-01",
	} {
		rec := do(t, r, "GET", "/stats/top-posts"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestServer_TopMiners(t *testing.T) {
	scores := &fakeScores{report: &models.WeightReport{
		GeneratedAt: testNow,
		Scores:      map[string]float64{"hk1": 4.0, "hk2": 1.0, "hk3": 1.0},
		Weights:     map[string]float64{"hk1": 0.5, "hk2": 0.125, "hk3": 0.125},
	}}
	r := newTestRouter(seed(t), scores, nil)

	rec := do(t, r, "GET", "/stats/top-miners", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TopMinersResponse](t, rec)
	require.Len(t, resp.Miners, 3)
	assert.Equal(t, TopMiner{Rank: 1, Hotkey: "hk1", Handle: "alice", Score: 4.0, Weight: 0.5}, resp.Miners[0])
	assert.Equal(t, "hk2", resp.Miners[1].Hotkey, "ties break by hotkey")
	assert.Equal(t, "unknown", resp.Miners[1].Handle)

	rec = do(t, r, "GET", "/stats/top-miners?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[TopMinersResponse](t, rec).Miners, 1)
	assert.Equal(t, 1, scores.calls, "report is cached between requests")
}

func TestServer_TopMinersComputeFailure(t *testing.T) {
	scores := &fakeScores{err: errors.New("ledger down")}
	r := newTestRouter(seed(t), scores, nil)

	assert.Equal(t, http.StatusInternalServerError, do(t, r, "GET", "/stats/top-miners", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, r, "GET", "/stats/top-miners", "").Code)
	assert.Equal(t, 2, scores.calls, "failures are not cached")
}

func TestServer_ContentChecks(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, &fakeChecker{nuanced: true})

	rec := do(t, r, "POST", "/nuance/check", `{"content":"it depends"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_nuanced":true}`, rec.Body.String())

	rec = do(t, r, "POST", "/topic/check", `{"content":"a new subnet","topic":"bittensor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_this_topic":true,"is_valid_topic":true}`, rec.Body.String())
}

func TestServer_ContentChecksValidateInput(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, &fakeChecker{})

	tests := []struct {
		name   string
		addr   string
		target string
		body   string
	}{
		{name: "not json", addr: "198.51.100.1:80", target: "/nuance/check", body: "content"},
		{name: "empty content", addr: "198.51.100.2:80", target: "/nuance/check", body: `{"content":""}`},
		{name: "missing topic", addr: "198.51.100.3:80", target: "/topic/check", body: `{"content":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.target, strings.NewReader(tt.body))
			req.RemoteAddr = tt.addr
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_ContentCheckOracleFailure(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, &fakeChecker{err: errors.New("oracle unavailable")})

	rec := do(t, r, "POST", "/nuance/check", `{"content":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_ContentChecksRateLimitedPerClient(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, &fakeChecker{})

	check := func(addr string) int {
		req := httptest.NewRequest("POST", "/nuance/check", strings.NewReader(`{"content":"x"}`))
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, check("192.0.2.1:1000"))
	assert.Equal(t, http.StatusOK, check("192.0.2.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, check("192.0.2.1:1002"), "ports share one limiter")
	assert.Equal(t, http.StatusOK, check("192.0.2.2:1000"))
}

func TestServer_ContentChecksDisabledWithoutChecker(t *testing.T) {
	r := newTestRouter(seed(t), &fakeScores{}, nil)

	assert.Equal(t, http.StatusNotFound, do(t, r, "POST", "/nuance/check", `{"content":"x"}`).Code)
}
