package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultSearchTimeout bounds a single esearch attempt.
	DefaultSearchTimeout = 60 * time.Second

	// DefaultFetchTimeout bounds a single efetch attempt.
	DefaultFetchTimeout = 120 * time.Second

	// MaxPageSize is the maximum retmax accepted by efetch.
	MaxPageSize = 10000

	database = "pubmed"
)

// Getter issues a rate-limited GET and returns the response body.
// *papersources.HTTPClient satisfies it.
type Getter interface {
	Get(ctx context.Context, endpointURL string, params url.Values, timeout time.Duration) ([]byte, error)
}

// Config holds the identification and timeout settings of a session.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	BaseURL string

	// Email and Tool identify the caller to NCBI on every request.
	Email string
	Tool  string

	// APIKey is the optional NCBI API key.
	APIKey string

	// SearchTimeout bounds each esearch attempt.
	SearchTimeout time.Duration

	// FetchTimeout bounds each efetch attempt.
	FetchTimeout time.Duration
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// Handle is the opaque history pair returned by a history-backed search.
// Pages are always retrieved through the same handle so the result set
// stays stable for the whole session.
type Handle struct {
	WebEnv   string
	QueryKey string
}

// Empty reports whether the handle is unusable for paging.
func (h Handle) Empty() bool {
	return h.WebEnv == "" || h.QueryKey == ""
}

// SearchResult is the outcome of an esearch call. Count is a snapshot taken
// at search time.
type SearchResult struct {
	Count  int
	Handle Handle
	IDs    []int64
}

// Session wraps the two-phase esearch/efetch protocol.
type Session struct {
	config Config
	client Getter
	logger zerolog.Logger
}

// NewSession creates a session issuing requests through client.
func NewSession(cfg Config, client Getter, logger zerolog.Logger) *Session {
	cfg.applyDefaults()
	return &Session{
		config: cfg,
		client: client,
		logger: logger.With().Str("component", "pubmed_session").Logger(),
	}
}

// Search runs a history-backed search and returns the total count and the
// handle for paging. Any failure wraps domain.ErrSearchFailed.
func (s *Session) Search(ctx context.Context, query string) (*SearchResult, error) {
	params := s.params()
	params.Set("term", query)
	params.Set("usehistory", "y")
	params.Set("retmode", "json")
	params.Set("retmax", "0")

	result, err := s.esearch(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if result.Count > 0 && result.Handle.Empty() {
		return nil, fmt.Errorf("%w: esearch returned %d matches without a history handle", domain.ErrSearchFailed, result.Count)
	}
	return result, nil
}

// SearchIDs runs a search without history and returns up to retmax
// identifiers directly.
func (s *Session) SearchIDs(ctx context.Context, query string, retmax int) (*SearchResult, error) {
	if retmax <= 0 || retmax > MaxPageSize {
		return nil, fmt.Errorf("%w: retmax must be in [1, %d], got %d", domain.ErrInvalidInput, MaxPageSize, retmax)
	}
	params := s.params()
	params.Set("term", query)
	params.Set("usehistory", "n")
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(retmax))

	return s.esearch(ctx, query, params)
}

// FetchPage retrieves the records at [offset, offset+pageSize) of the
// history result set as raw efetch XML.
func (s *Session) FetchPage(ctx context.Context, handle Handle, offset, pageSize int) ([]byte, error) {
	if handle.Empty() {
		return nil, fmt.Errorf("%w: empty history handle", domain.ErrInvalidInput)
	}
	if offset < 0 || pageSize <= 0 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: invalid page offset=%d size=%d", domain.ErrInvalidInput, offset, pageSize)
	}

	params := s.params()
	params.Set("query_key", handle.QueryKey)
	params.Set("WebEnv", handle.WebEnv)
	params.Set("retstart", strconv.Itoa(offset))
	params.Set("retmax", strconv.Itoa(pageSize))
	params.Set("retmode", "xml")

	s.logger.Debug().Int("offset", offset).Int("page_size", pageSize).Msg("fetching page")

	body, err := s.client.Get(ctx, s.config.BaseURL+"/efetch.fcgi", params, s.config.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("efetch page at offset %d: %w", offset, err)
	}
	return body, nil
}

// FetchByIDs retrieves the given identifiers directly, bypassing history.
func (s *Session) FetchByIDs(ctx context.Context, ids []int64) ([]byte, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no identifiers to fetch", domain.ErrInvalidInput)
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	params := s.params()
	params.Set("id", strings.Join(parts, ","))
	params.Set("retmode", "xml")

	s.logger.Debug().Int("count", len(ids)).Msg("fetching identifiers directly")

	body, err := s.client.Get(ctx, s.config.BaseURL+"/efetch.fcgi", params, s.config.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("efetch %d identifier(s): %w", len(ids), err)
	}
	return body, nil
}

// esearch performs the call and decodes the JSON envelope.
func (s *Session) esearch(ctx context.Context, query string, params url.Values) (*SearchResult, error) {
	s.logger.Info().Str("query", query).Msg("executing esearch")

	body, err := s.client.Get(ctx, s.config.BaseURL+"/esearch.fcgi", params, s.config.SearchTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: esearch: %w", domain.ErrSearchFailed, err)
	}

	var resp ESearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w: decode esearch response: %v", domain.ErrSearchFailed, domain.ErrMalformedDocument, err)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("%w: %w: esearch response has no esearchresult", domain.ErrSearchFailed, domain.ErrMalformedDocument)
	}
	r := resp.Result
	if r.Error != "" {
		return nil, fmt.Errorf("%w: esearch error: %s", domain.ErrSearchFailed, r.Error)
	}
	if r.ErrorList != nil && len(r.ErrorList.PhrasesNotFound) > 0 {
		s.logger.Warn().Strs("phrases", r.ErrorList.PhrasesNotFound).Msg("esearch phrases not found")
	}

	count := 0
	if r.Count != "" {
		count, err = strconv.Atoi(r.Count)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: %w: invalid esearch count %q", domain.ErrSearchFailed, domain.ErrMalformedDocument, r.Count)
		}
	}

	result := &SearchResult{
		Count:  count,
		Handle: Handle{WebEnv: r.WebEnv, QueryKey: r.QueryKey},
	}
	for _, raw := range r.IDList {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			s.logger.Warn().Str("id", raw).Msg("skipping non-numeric identifier in esearch id list")
			continue
		}
		result.IDs = append(result.IDs, id)
	}

	s.logger.Info().Int("count", count).Msg("esearch completed")
	return result, nil
}

// params returns the identification parameters sent with every request.
func (s *Session) params() url.Values {
	params := url.Values{}
	params.Set("db", database)
	if s.config.Email != "" {
		params.Set("email", s.config.Email)
	}
	if s.config.Tool != "" {
		params.Set("tool", s.config.Tool)
	}
	if s.config.APIKey != "" {
		params.Set("api_key", s.config.APIKey)
	}
	return params
}
