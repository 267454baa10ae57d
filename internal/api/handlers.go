package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/sirupsen/logrus"
)

// PostResponse is a stored post with its processing outcome
type PostResponse struct {
	Platform         models.PlatformType     `json:"platform_type"`
	PostID           string                  `json:"post_id"`
	AccountID        string                  `json:"account_id"`
	Content          string                  `json:"content"`
	Topics           []string                `json:"topics"`
	Status           models.ProcessingStatus `json:"processing_status"`
	ProcessingNote   string                  `json:"processing_note,omitempty"`
	InteractionCount int                     `json:"interaction_count"`
	CreatedAt        time.Time               `json:"created_at"`
}

// InteractionResponse is a stored interaction with its processing outcome
type InteractionResponse struct {
	Platform       models.PlatformType     `json:"platform_type"`
	InteractionID  string                  `json:"interaction_id"`
	Type           models.InteractionType  `json:"interaction_type"`
	PostID         string                  `json:"post_id"`
	AccountID      string                  `json:"account_id"`
	Content        string                  `json:"content"`
	Status         models.ProcessingStatus `json:"processing_status"`
	ProcessingNote string                  `json:"processing_note,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// AccountVerificationResponse reports whether an account is linked to a known node
type AccountVerificationResponse struct {
	Platform   models.PlatformType `json:"platform_type"`
	AccountID  string              `json:"account_id"`
	Username   string              `json:"username"`
	NodeHotkey string              `json:"node_hotkey,omitempty"`
	NodeNetuid int                 `json:"node_netuid,omitempty"`
	IsVerified bool                `json:"is_verified"`
}

// TopPost is one accepted post in the top posts listing
type TopPost struct {
	Date     string   `json:"date"`
	Handle   string   `json:"handle"`
	PostID   string   `json:"post_id"`
	Text     string   `json:"text"`
	Topics   []string `json:"topics"`
	Accepted int      `json:"accepted_interactions"`
}

// TopPostsResponse lists accepted posts in a date range, newest first
type TopPostsResponse struct {
	Posts      []TopPost `json:"posts"`
	Period     string    `json:"period"`
	TotalCount int       `json:"total_count"`
}

// TopMiner is one scored node
type TopMiner struct {
	Rank   int     `json:"rank"`
	Hotkey string  `json:"hotkey"`
	Handle string  `json:"handle"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// TopMinersResponse ranks nodes by their score in the current window
type TopMinersResponse struct {
	Miners      []TopMiner `json:"miners"`
	GeneratedAt time.Time  `json:"generated_at"`
	WindowStart time.Time  `json:"window_start"`
}

func postResponse(p models.Post, interactions int) PostResponse {
	topics := p.Topics
	if topics == nil {
		topics = []string{}
	}
	return PostResponse{
		Platform:         p.Platform,
		PostID:           p.PostID,
		AccountID:        p.AccountID,
		Content:          p.Content,
		Topics:           topics,
		Status:           p.Status,
		ProcessingNote:   p.ProcessingNote,
		InteractionCount: interactions,
		CreatedAt:        p.CreatedAt,
	}
}

func interactionResponse(i models.Interaction) InteractionResponse {
	return InteractionResponse{
		Platform:       i.Platform,
		InteractionID:  i.InteractionID,
		Type:           i.Type,
		PostID:         i.PostID,
		AccountID:      i.AccountID,
		Content:        i.Content,
		Status:         i.Status,
		ProcessingNote: i.ProcessingNote,
		CreatedAt:      i.CreatedAt,
	}
}

func platformVar(r *http.Request) models.PlatformType {
	return models.PlatformType(mux.Vars(r)["platform"])
}

func (s *Server) storeFailed(w http.ResponseWriter, op string, err error) {
	logrus.Errorf("Read API %s failed: %v", op, err)
	writeError(w, http.StatusInternalServerError, "failed to %s", op)
}

// recentPosts lists posts created since cutoff_date that have at least
// min_interactions interactions. With only_scored (the default) every one of
// those interactions must be accepted.
func (s *Server) recentPosts(w http.ResponseWriter, r *http.Request) {
	platform := platformVar(r)
	cutoff, err := s.cutoff(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	skip, limit, err := page(r, defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	q := r.URL.Query()
	minInteractions := 1
	if v := q.Get("min_interactions"); v != "" {
		if minInteractions, err = strconv.Atoi(v); err != nil || minInteractions < 0 {
			writeError(w, http.StatusBadRequest, "min_interactions must be a non-negative integer")
			return
		}
	}
	onlyScored := true
	if v := q.Get("only_scored"); v != "" {
		if onlyScored, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "only_scored must be a boolean")
			return
		}
	}

	posts, err := s.store.ListPosts(r.Context(), storage.PostFilter{Platform: platform, Since: cutoff})
	if err != nil {
		s.storeFailed(w, "list posts", err)
		return
	}

	out := make([]PostResponse, 0, len(posts))
	for _, post := range posts {
		interactions, err := s.store.ListInteractions(r.Context(), storage.InteractionFilter{Platform: platform, PostID: post.PostID})
		if err != nil {
			s.storeFailed(w, "list interactions", err)
			return
		}
		if len(interactions) < minInteractions {
			continue
		}
		if onlyScored && !allAccepted(interactions) {
			continue
		}
		out = append(out, postResponse(post, len(interactions)))
	}

	logrus.WithField("platform", platform).Debugf("Serving %d of %d recent posts", len(out), len(posts))
	WriteJSON(w, http.StatusOK, paginate(out, skip, limit))
}

func allAccepted(interactions []models.Interaction) bool {
	for _, i := range interactions {
		if i.Status != models.StatusAccepted {
			return false
		}
	}
	return true
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	platform := platformVar(r)
	postID := mux.Vars(r)["post_id"]

	post, err := s.store.GetPostByID(r.Context(), platform, postID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.storeFailed(w, "get post", err)
		return
	}

	interactions, err := s.store.ListInteractions(r.Context(), storage.InteractionFilter{Platform: platform, PostID: postID})
	if err != nil {
		s.storeFailed(w, "list interactions", err)
		return
	}
	WriteJSON(w, http.StatusOK, postResponse(*post, len(interactions)))
}

func (s *Server) postInteractions(w http.ResponseWriter, r *http.Request) {
	platform := platformVar(r)
	postID := mux.Vars(r)["post_id"]
	skip, limit, err := page(r, defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	if _, err := s.store.GetPostByID(r.Context(), platform, postID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.storeFailed(w, "get post", err)
		return
	}

	interactions, err := s.store.ListInteractions(r.Context(), storage.InteractionFilter{Platform: platform, PostID: postID})
	if err != nil {
		s.storeFailed(w, "list interactions", err)
		return
	}
	out := make([]InteractionResponse, 0, len(interactions))
	for _, i := range paginate(interactions, skip, limit) {
		out = append(out, interactionResponse(i))
	}
	WriteJSON(w, http.StatusOK, out)
}

// recentInteractions lists accepted interactions created since cutoff_date
func (s *Server) recentInteractions(w http.ResponseWriter, r *http.Request) {
	cutoff, err := s.cutoff(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	skip, limit, err := page(r, defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	interactions, err := s.store.ListInteractions(r.Context(), storage.InteractionFilter{
		Platform: platformVar(r),
		Status:   models.StatusAccepted,
		Since:    cutoff,
	})
	if err != nil {
		s.storeFailed(w, "list interactions", err)
		return
	}
	out := make([]InteractionResponse, 0, len(interactions))
	for _, i := range paginate(interactions, skip, limit) {
		out = append(out, interactionResponse(i))
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) getInteraction(w http.ResponseWriter, r *http.Request) {
	interaction, err := s.store.GetInteractionByID(r.Context(), platformVar(r), mux.Vars(r)["interaction_id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "interaction not found")
		return
	}
	if err != nil {
		s.storeFailed(w, "get interaction", err)
		return
	}
	WriteJSON(w, http.StatusOK, interactionResponse(*interaction))
}

// verifyAccount answers with is_verified=false for unknown accounts rather
// than 404, so clients can poll while a claim is pending.
func (s *Server) verifyAccount(w http.ResponseWriter, r *http.Request) {
	platform := platformVar(r)
	accountID := mux.Vars(r)["account_id"]
	resp := AccountVerificationResponse{Platform: platform, AccountID: accountID, Username: "unknown"}

	account, err := s.store.GetSocialAccount(r.Context(), platform, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		WriteJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		s.storeFailed(w, "get account", err)
		return
	}
	resp.Username = account.Username

	if account.Verified && account.NodeHotkey != "" {
		_, err := s.store.GetNode(r.Context(), account.NodeHotkey, account.NodeNetuid)
		switch {
		case err == nil:
			resp.NodeHotkey = account.NodeHotkey
			resp.NodeNetuid = account.NodeNetuid
			resp.IsVerified = true
		case !errors.Is(err, storage.ErrNotFound):
			s.storeFailed(w, "get node", err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) topPosts(w http.ResponseWriter, r *http.Request) {
	since, until, period, err := s.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	_, limit, err := page(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	posts, err := s.store.ListPosts(r.Context(), storage.PostFilter{Status: models.StatusAccepted, Since: since, Until: until})
	if err != nil {
		s.storeFailed(w, "list posts", err)
		return
	}

	handles := make(map[string]string)
	out := make([]TopPost, 0, limit)
	for _, post := range paginate(posts, 0, limit) {
		key := string(post.Platform) + ":" + post.AccountID
		handle, ok := handles[key]
		if !ok {
			handle = "unknown"
			if account, err := s.store.GetSocialAccount(r.Context(), post.Platform, post.AccountID); err == nil {
				handle = account.Username
			}
			handles[key] = handle
		}

		accepted, err := s.store.ListInteractions(r.Context(), storage.InteractionFilter{
			Platform: post.Platform,
			PostID:   post.PostID,
			Status:   models.StatusAccepted,
		})
		if err != nil {
			s.storeFailed(w, "list interactions", err)
			return
		}

		topics := post.Topics
		if topics == nil {
			topics = []string{}
		}
		out = append(out, TopPost{
			Date:     post.CreatedAt.UTC().Format(time.DateOnly),
			Handle:   handle,
			PostID:   post.PostID,
			Text:     post.Content,
			Topics:   topics,
			Accepted: len(accepted),
		})
	}

	WriteJSON(w, http.StatusOK, TopPostsResponse{Posts: out, Period: period, TotalCount: len(out)})
}

func (s *Server) topMiners(w http.ResponseWriter, r *http.Request) {
	_, limit, err := page(r, 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	report, err := s.report(r.Context())
	if err != nil {
		logrus.Errorf("Read API failed to compute scores: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to compute scores")
		return
	}

	hotkeys := make([]string, 0, len(report.Scores))
	for hotkey := range report.Scores {
		hotkeys = append(hotkeys, hotkey)
	}
	sort.Slice(hotkeys, func(i, j int) bool {
		if report.Scores[hotkeys[i]] != report.Scores[hotkeys[j]] {
			return report.Scores[hotkeys[i]] > report.Scores[hotkeys[j]]
		}
		return hotkeys[i] < hotkeys[j]
	})

	miners := make([]TopMiner, 0, limit)
	for i, hotkey := range paginate(hotkeys, 0, limit) {
		handle := "unknown"
		accounts, err := s.store.ListAccountsByNode(r.Context(), hotkey, s.opts.Netuid)
		if err != nil {
			s.storeFailed(w, "list accounts", err)
			return
		}
		if len(accounts) > 0 {
			handle = accounts[0].Username
		}
		miners = append(miners, TopMiner{
			Rank:   i + 1,
			Hotkey: hotkey,
			Handle: handle,
			Score:  report.Scores[hotkey],
			Weight: report.Weights[hotkey],
		})
	}

	WriteJSON(w, http.StatusOK, TopMinersResponse{Miners: miners, GeneratedAt: report.GeneratedAt, WindowStart: report.WindowStart})
}

type checkRequest struct {
	Content string `json:"content"`
	Topic   string `json:"topic"`
}

func decodeCheck(w http.ResponseWriter, r *http.Request, needTopic bool) (checkRequest, bool) {
	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Content == "" || (needTopic && req.Topic == "") {
		if needTopic {
			writeError(w, http.StatusBadRequest, "content and topic are required")
		} else {
			writeError(w, http.StatusBadRequest, "content is required")
		}
		return req, false
	}
	return req, true
}

func (s *Server) checkContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.CheckTimeout)
}

func (s *Server) checkNuance(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCheck(w, r, false)
	if !ok {
		return
	}
	ctx, cancel := s.checkContext(r)
	defer cancel()

	nuanced, err := s.checker.CheckNuance(ctx, req.Content)
	if err != nil {
		logrus.Errorf("Nuance check failed: %v", err)
		writeError(w, http.StatusBadGateway, "judgment service unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"is_nuanced": nuanced})
}

func (s *Server) checkTopic(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCheck(w, r, true)
	if !ok {
		return
	}
	ctx, cancel := s.checkContext(r)
	defer cancel()

	matches, valid, err := s.checker.CheckTopic(ctx, req.Content, req.Topic)
	if err != nil {
		logrus.Errorf("Topic check failed: %v", err)
		writeError(w, http.StatusBadGateway, "judgment service unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"is_this_topic": matches, "is_valid_topic": valid})
}
