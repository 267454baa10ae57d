package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
	limiterEntries  = 10000
	statsKey        = "report"
)

// ContentChecker judges free text the way posts are judged
type ContentChecker interface {
	CheckNuance(ctx context.Context, content string) (bool, error)
	CheckTopic(ctx context.Context, content, topic string) (matches, valid bool, err error)
}

// ScoreSource computes the current weight report without submitting it
type ScoreSource interface {
	Compute(ctx context.Context) (*models.WeightReport, error)
}

// Options tunes the read API
type Options struct {
	Netuid        int
	Window        time.Duration
	ChecksPerMin  int
	StatsCacheTTL time.Duration
	CheckTimeout  time.Duration
	StatsTimeout  time.Duration
}

// Server exposes the validator's stored state and ad hoc content checks
type Server struct {
	store   storage.Store
	scores  ScoreSource
	checker ContentChecker
	opts    Options
	now     func() time.Time

	limiterMu sync.Mutex
	limiters  *expirable.LRU[string, *rate.Limiter]
	stats     *expirable.LRU[string, *models.WeightReport]
}

// NewServer creates the read API. checker may be nil, which disables the
// content check endpoints.
func NewServer(store storage.Store, scores ScoreSource, checker ContentChecker, opts Options) *Server {
	if opts.ChecksPerMin < 1 {
		opts.ChecksPerMin = 2
	}
	if opts.StatsCacheTTL <= 0 {
		opts.StatsCacheTTL = time.Minute
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = time.Minute
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = time.Minute
	}
	return &Server{
		store:    store,
		scores:   scores,
		checker:  checker,
		opts:     opts,
		now:      time.Now,
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterEntries, nil, 10*time.Minute),
		stats:    expirable.NewLRU[string, *models.WeightReport](1, nil, opts.StatsCacheTTL),
	}
}

// Register mounts every read endpoint on r.
// Literal segments are registered before the parameterized ones they shadow.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/posts/{platform}/recent", s.recentPosts).Methods("GET")
	r.HandleFunc("/posts/{platform}/{post_id}", s.getPost).Methods("GET")
	r.HandleFunc("/posts/{platform}/{post_id}/interactions", s.postInteractions).Methods("GET")

	r.HandleFunc("/interactions/{platform}/recent", s.recentInteractions).Methods("GET")
	r.HandleFunc("/interactions/{platform}/{interaction_id}", s.getInteraction).Methods("GET")

	r.HandleFunc("/accounts/verify/{platform}/{account_id}", s.verifyAccount).Methods("GET")

	r.HandleFunc("/stats/top-posts", s.topPosts).Methods("GET")
	r.HandleFunc("/stats/top-miners", s.topMiners).Methods("GET")

	if s.checker != nil {
		r.HandleFunc("/nuance/check", s.rateLimited(s.checkNuance)).Methods("POST")
		r.HandleFunc("/topic/check", s.rateLimited(s.checkTopic)).Methods("POST")
	}
}

// WriteJSON encodes body with the given status code
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	WriteJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// getOrCreateLimiter returns the limiter for one client address
func (s *Server) getOrCreateLimiter(client string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	if lim, ok := s.limiters.Get(client); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.ChecksPerMin)), s.opts.ChecksPerMin)
	s.limiters.Add(client, lim)
	return lim
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !s.getOrCreateLimiter(client).Allow() {
			logrus.WithField("client", client).Warn("Content check rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded: %d checks per minute", s.opts.ChecksPerMin)
			return
		}
		next(w, r)
	}
}

// page reads skip and limit query parameters
func page(r *http.Request, defaultLimit int) (skip, limit int, err error) {
	q := r.URL.Query()
	skip, limit = 0, defaultLimit
	if v := q.Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, fmt.Errorf("skip must be a non-negative integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
	}
	return skip, limit, nil
}

func paginate[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}

// parseCutoff accepts RFC 3339 timestamps or plain dates, always as UTC
func parseCutoff(value string) (time.Time, error) {
	// An unescaped "+" in the offset arrives as a space
	if t, err := time.Parse(time.RFC3339, strings.Replace(value, " ", "+", 1)); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format %q, use YYYY-MM-DD or YYYY-MM-DDTHH:MM:SSZ", value)
	}
	return t, nil
}

func (s *Server) cutoff(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("cutoff_date")
	if v == "" {
		return s.now().UTC().Add(-s.opts.Window), nil
	}
	return parseCutoff(v)
}

// dateRange reads start_date and end_date as whole UTC days, end inclusive.
// Missing bounds default to the last seven days.
func (s *Server) dateRange(r *http.Request) (since, until time.Time, period string, err error) {
	q := r.URL.Query()
	today := s.now().UTC()
	start := q.Get("start_date")
	if start == "" {
		start = today.AddDate(0, 0, -7).Format(time.DateOnly)
	}
	end := q.Get("end_date")
	if end == "" {
		end = today.Format(time.DateOnly)
	}

	if since, err = time.Parse(time.DateOnly, start); err != nil {
		return time.Time{}, time.Time{}, "", fmt.Errorf("invalid start_date %q, use YYYY-MM-DD", start)
	}
	endDay, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return time.Time{}, time.Time{}, "", fmt.Errorf("invalid end_date %q, use YYYY-MM-DD", end)
	}
	until = endDay.AddDate(0, 0, 1)
	if !since.Before(until) {
		return time.Time{}, time.Time{}, "", fmt.Errorf("start_date must be before end_date")
	}
	return since, until, start + " to " + end, nil
}

// report serves the latest computed weights, recomputing at most once per TTL
func (s *Server) report(ctx context.Context) (*models.WeightReport, error) {
	if report, ok := s.stats.Get(statsKey); ok {
		return report, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StatsTimeout)
	defer cancel()
	report, err := s.scores.Compute(ctx)
	if err != nil {
		return nil, err
	}
	s.stats.Add(statsKey, report)
	return report, nil
}
