// Package openlibrary resolves ISBN codes, free-text queries, and subject
// listings against the Open Library JSON API, normalizing every result into a
// domain.BookRecord.
package openlibrary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shelfscan/pkg/domain"
)

const (
	defaultBaseURL   = "https://openlibrary.org"
	defaultCoversURL = "https://covers.openlibrary.org"
	defaultUserAgent = "shelfscan/1.0 (book catalog)"
)

// Config tunes the client. Zero values fall back to the public Open Library
// hosts and a 15s request timeout.
type Config struct {
	BaseURL    string
	CoversURL  string
	UserAgent  string
	Timeout    time.Duration
	RPS        float64
	HTTPClient *http.Client
}

// Client is the metadata resolver. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	coversURL  string
	userAgent  string
	limiter    *rate.Limiter
}

// NewClient constructs a resolver client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	coversURL := strings.TrimSpace(cfg.CoversURL)
	if coversURL == "" {
		coversURL = defaultCoversURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 3
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		coversURL:  strings.TrimRight(coversURL, "/"),
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// searchResponse matches /search.json.
type searchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []searchDoc `json:"docs"`
}

type searchDoc struct {
	Title            string   `json:"title"`
	AuthorNames      []string `json:"author_name"`
	FirstPublishYear int      `json:"first_publish_year"`
	CoverID          int      `json:"cover_i"`
	ISBN             []string `json:"isbn"`
	Publishers       []string `json:"publisher"`
	PublishDates     []string `json:"publish_date"`
	Subjects         []string `json:"subject"`
}

// subjectResponse matches /subjects/{subject}.json.
type subjectResponse struct {
	Name      string        `json:"name"`
	WorkCount int           `json:"work_count"`
	Works     []subjectWork `json:"works"`
}

type subjectWork struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	CoverID          int      `json:"cover_id"`
	CoverEditionKey  string   `json:"cover_edition_key"`
	Subjects         []string `json:"subject"`
	FirstPublishYear int      `json:"first_publish_year"`
	Authors          []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

// ResolveByCode resolves a scanned barcode into a normalized record by issuing
// an `isbn:{code}` search and mapping the first result document. When the
// response omits an ISBN list, the scanned code itself becomes the record's
// ISBN.
func (c *Client) ResolveByCode(ctx context.Context, code string) (domain.BookRecord, error) {
	res, err := c.search(ctx, "isbn:"+code)
	if err != nil {
		return domain.BookRecord{}, err
	}
	if res.NumFound == 0 || len(res.Docs) == 0 {
		return domain.BookRecord{}, &NotFoundError{Key: code}
	}
	return c.mapSearchDoc(res.Docs[0], code), nil
}

// ResolveByQuery resolves a caller-constructed query (e.g. `author:{name}`,
// `title:{name}`) into a normalized record. Unlike ResolveByCode there is no
// ISBN fallback.
func (c *Client) ResolveByQuery(ctx context.Context, query string) (domain.BookRecord, error) {
	res, err := c.search(ctx, query)
	if err != nil {
		return domain.BookRecord{}, err
	}
	if res.NumFound == 0 || len(res.Docs) == 0 {
		return domain.BookRecord{}, &NotFoundError{Key: query}
	}
	return c.mapSearchDoc(res.Docs[0], ""), nil
}

// BrowseBySubject lists works for a subject, optionally restricted to a
// publication range like "1990-2000". Subject results carry no ISBN. A
// subject with zero works yields an empty list, not an error.
func (c *Client) BrowseBySubject(ctx context.Context, subject, publishedIn string) ([]domain.BookRecord, error) {
	endpoint := fmt.Sprintf("%s/subjects/%s.json", c.baseURL, url.PathEscape(strings.ToLower(strings.TrimSpace(subject))))
	if publishedIn != "" {
		endpoint += "?published_in=" + url.QueryEscape(publishedIn)
	}
	var res subjectResponse
	if err := c.get(ctx, endpoint, &res); err != nil {
		return nil, err
	}
	records := make([]domain.BookRecord, 0, len(res.Works))
	for _, work := range res.Works {
		records = append(records, c.mapSubjectWork(work))
	}
	return records, nil
}

func (c *Client) search(ctx context.Context, query string) (*searchResponse, error) {
	endpoint := fmt.Sprintf("%s/search.json?q=%s", c.baseURL, url.QueryEscape(query))
	var res searchResponse
	if err := c.get(ctx, endpoint, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, endpoint string, target any) error {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return ErrInvalidURL
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ErrInvalidURL
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &BadStatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	if len(body) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &DecodeError{Cause: err}
	}
	return nil
}
