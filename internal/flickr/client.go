// Package flickr implements the remote photo source on top of the Flickr REST
// search API.
package flickr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Oxyrus/pinphotos/internal/session"
	"github.com/Oxyrus/pinphotos/internal/storage"
)

const (
	DefaultEndpoint = "https://api.flickr.com/services/rest/"

	searchMethod = "flickr.photos.search"
	// Flickr stops returning distinct results past this many photos.
	maxSearchResults = 4000
)

// APIError is a "stat": "fail" response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flickr: api error %d: %s", e.Code, e.Message)
}

type Options struct {
	APIKey   string
	Endpoint string
	PageSize int
	Timeout  time.Duration
}

// Client fetches one random page of geotagged photos per call. It remembers
// how many pages each coordinate has so later calls can pick among them.
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
	pageSize   int
	randPage   func(n int) int

	mu    sync.Mutex
	pages map[storage.Coordinate]int
}

func New(opts Options) *Client {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 21
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		apiKey:     opts.APIKey,
		endpoint:   endpoint,
		pageSize:   pageSize,
		randPage:   func(n int) int { return rand.IntN(n) + 1 },
		pages:      make(map[storage.Coordinate]int),
	}
}

type searchResponse struct {
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Photos  struct {
		Page  int           `json:"page"`
		Pages int           `json:"pages"`
		Photo []searchPhoto `json:"photo"`
	} `json:"photos"`
}

type searchPhoto struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
	Server string `json:"server"`
	Title  string `json:"title"`
	URLM   string `json:"url_m"`
}

func (p searchPhoto) url() string {
	if p.URLM != "" {
		return p.URLM
	}
	return fmt.Sprintf("https://live.staticflickr.com/%s/%s_%s.jpg", p.Server, p.ID, p.Secret)
}

// FetchPage issues a single search request. It does not retry.
func (c *Client) FetchPage(ctx context.Context, at storage.Coordinate) ([]session.Descriptor, error) {
	page := c.nextPage(at)

	query := url.Values{}
	query.Set("method", searchMethod)
	query.Set("api_key", c.apiKey)
	query.Set("lat", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	query.Set("extras", "url_m")
	query.Set("per_page", strconv.Itoa(c.pageSize))
	query.Set("page", strconv.Itoa(page))
	query.Set("format", "json")
	query.Set("nojsoncallback", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("flickr: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flickr: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("flickr: search: unexpected status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("flickr: decode search response: %w", err)
	}

	if body.Stat != "ok" {
		return nil, &APIError{Code: body.Code, Message: body.Message}
	}

	c.rememberPages(at, body.Photos.Pages)

	descriptors := make([]session.Descriptor, 0, len(body.Photos.Photo))
	for _, p := range body.Photos.Photo {
		descriptors = append(descriptors, session.Descriptor{URL: p.url()})
	}

	return descriptors, nil
}

func (c *Client) nextPage(at storage.Coordinate) int {
	c.mu.Lock()
	known := c.pages[at]
	c.mu.Unlock()

	limit := maxSearchResults / c.pageSize
	if known > 0 && known < limit {
		limit = known
	}
	if known == 0 || limit <= 1 {
		return 1
	}
	return c.randPage(limit)
}

func (c *Client) rememberPages(at storage.Coordinate, pages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[at] = pages
}

var _ session.Source = (*Client)(nil)
