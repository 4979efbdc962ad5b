// Package confluence is a Confluence Cloud REST API v2 client. It is
// the content-source collaborator: the pipeline core never talks to
// the network itself.
package confluence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/confmove/confmove/internal/models"
)

// Sentinel errors checked with errors.Is by callers.
var (
	// ErrAuth indicates invalid or anonymous credentials.
	ErrAuth = errors.New("confluence authentication failed")

	// ErrSpaceNotFound indicates the requested space key does not exist
	// or is not visible to the authenticated user.
	ErrSpaceNotFound = errors.New("space not found")
)

const (
	maxRetries     = 5
	initialBackoff = time.Second
	maxBackoff     = 32 * time.Second
)

// Client talks to Confluence Cloud with basic auth and bounded
// exponential backoff on 429/5xx responses.
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger

	// retryInterval seeds the backoff; shortened in tests.
	retryInterval time.Duration
}

// New creates a client for the given site. A nil logger falls back to
// slog.Default.
func New(baseURL, username, apiToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		username:      username,
		apiToken:      apiToken,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
		logger:        logger,
		retryInterval: initialBackoff,
	}
}

// request performs one HTTP request, retrying rate-limit and server
// errors with exponential backoff. Other non-2xx statuses fail fast.
func (c *Client) request(ctx context.Context, method, rawURL string, params url.Values) (*http.Response, error) {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = c.baseURL + rawURL
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + params.Encode()
	}

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.SetBasicAuth(c.username, c.apiToken)
		req.Header.Set("Accept", "application/json")

		c.logger.Debug("confluence request", "method", method, "url", rawURL, "attempt", attempt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			c.logger.Warn("confluence request will be retried",
				"status", resp.StatusCode, "url", rawURL, "attempt", attempt)
			return nil, fmt.Errorf("%s %s: HTTP %d", method, rawURL, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d on %s", ErrAuth, resp.StatusCode, rawURL))
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("%s %s: HTTP %d: %s", method, rawURL, resp.StatusCode, strings.TrimSpace(string(body))))
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxInterval = maxBackoff
	return backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

// getJSON fetches a URL and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	resp, err := c.request(ctx, http.MethodGet, rawURL, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

// page is a single results page of a cursor-paginated v2 endpoint.
type resultsPage struct {
	Results []json.RawMessage `json:"results"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// paginate follows _links.next cursors and returns all raw results.
// Query parameters apply to the first request only; the next URL
// carries its own.
func (c *Client) paginate(ctx context.Context, rawURL string, params url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for rawURL != "" {
		var pg resultsPage
		if err := c.getJSON(ctx, rawURL, params, &pg); err != nil {
			return nil, err
		}
		all = append(all, pg.Results...)
		rawURL = pg.Links.Next
		params = nil
	}
	return all, nil
}

// VerifyAuth checks that the credentials resolve to a real user and
// returns the display name. Tokens that resolve as anonymous fail.
func (c *Client) VerifyAuth(ctx context.Context) (string, error) {
	var user struct {
		Type        string `json:"type"`
		DisplayName string `json:"displayName"`
		Username    string `json:"username"`
	}
	if err := c.getJSON(ctx, "/wiki/rest/api/user/current", nil, &user); err != nil {
		return "", err
	}
	if user.Type == "anonymous" {
		return "", fmt.Errorf("%w: token resolved as anonymous", ErrAuth)
	}
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	return name, nil
}

// Space is a Confluence space. HomepageID identifies the designated
// root page.
type Space struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	HomepageID string `json:"homepageId"`
}

// SpaceByKey looks up one space by its key.
func (c *Client) SpaceByKey(ctx context.Context, key string) (*Space, error) {
	var out struct {
		Results []Space `json:"results"`
	}
	if err := c.getJSON(ctx, "/wiki/api/v2/spaces", url.Values{"keys": {key}}, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrSpaceNotFound, key)
	}
	return &out.Results[0], nil
}

// SpaceByID fetches one space by its numeric ID.
func (c *Client) SpaceByID(ctx context.Context, id string) (*Space, error) {
	var sp Space
	if err := c.getJSON(ctx, "/wiki/api/v2/spaces/"+id, nil, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// Spaces lists all spaces visible to the user.
func (c *Client) Spaces(ctx context.Context) ([]Space, error) {
	raw, err := c.paginate(ctx, "/wiki/api/v2/spaces", nil)
	if err != nil {
		return nil, err
	}
	spaces := make([]Space, 0, len(raw))
	for _, r := range raw {
		var sp Space
		if err := json.Unmarshal(r, &sp); err != nil {
			return nil, fmt.Errorf("decode space: %w", err)
		}
		spaces = append(spaces, sp)
	}
	return spaces, nil
}

// Page is a Confluence page with its export_view body.
type Page struct {
	ID       string
	Title    string
	SpaceID  string
	ParentID string
	BodyHTML string
}

// pagePayload matches the v2 page shape on the wire.
type pagePayload struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SpaceID  string `json:"spaceId"`
	ParentID string `json:"parentId"`
	Body     struct {
		ExportView struct {
			Value string `json:"value"`
		} `json:"export_view"`
	} `json:"body"`
}

func (p pagePayload) toPage() Page {
	return Page{
		ID:       p.ID,
		Title:    p.Title,
		SpaceID:  p.SpaceID,
		ParentID: p.ParentID,
		BodyHTML: p.Body.ExportView.Value,
	}
}

// PageByID fetches a single page with its export_view body.
func (c *Client) PageByID(ctx context.Context, id string) (*Page, error) {
	var payload pagePayload
	if err := c.getJSON(ctx, "/wiki/api/v2/pages/"+id, url.Values{"body-format": {"export_view"}}, &payload); err != nil {
		return nil, err
	}
	pg := payload.toPage()
	return &pg, nil
}

// SpacePages lists every page in a space and fetches each with its
// body. The v2 list endpoint does not support body-format, so pages
// are listed first and fetched individually; the returned order is the
// source's native list order, which downstream path resolution treats
// as authoritative.
func (c *Client) SpacePages(ctx context.Context, spaceID string) ([]Page, error) {
	raw, err := c.paginate(ctx, "/wiki/api/v2/spaces/"+spaceID+"/pages", url.Values{"limit": {"50"}})
	if err != nil {
		return nil, err
	}
	c.logger.Info("found pages in space, fetching bodies", "space_id", spaceID, "count", len(raw))

	pages := make([]Page, 0, len(raw))
	for i, r := range raw {
		var stub struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal(r, &stub); err != nil {
			return nil, fmt.Errorf("decode page listing: %w", err)
		}
		c.logger.Debug("fetching page body", "index", i+1, "total", len(raw), "title", stub.Title)
		pg, err := c.PageByID(ctx, stub.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch page %s: %w", stub.ID, err)
		}
		pages = append(pages, *pg)
	}
	return pages, nil
}

// PageComments fetches a page's flat footer comments in storage format.
func (c *Client) PageComments(ctx context.Context, pageID string) ([]models.Comment, error) {
	raw, err := c.paginate(ctx, "/wiki/api/v2/pages/"+pageID+"/footer-comments", url.Values{"body-format": {"storage"}})
	if err != nil {
		return nil, err
	}

	comments := make([]models.Comment, 0, len(raw))
	for _, r := range raw {
		var payload struct {
			Version struct {
				CreatedAt string `json:"createdAt"`
				AuthorID  string `json:"authorId"`
				Author    struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
			} `json:"version"`
			Body struct {
				Storage struct {
					Value string `json:"value"`
				} `json:"storage"`
			} `json:"body"`
		}
		if err := json.Unmarshal(r, &payload); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}

		author := payload.Version.Author.DisplayName
		if author == "" {
			author = payload.Version.AuthorID
		}
		comments = append(comments, models.Comment{
			Author:    author,
			CreatedAt: payload.Version.CreatedAt,
			BodyHTML:  payload.Body.Storage.Value,
		})
	}
	return comments, nil
}

// PageAttachments lists a page's attachments in source order.
func (c *Client) PageAttachments(ctx context.Context, pageID string) ([]models.Attachment, error) {
	raw, err := c.paginate(ctx, "/wiki/api/v2/pages/"+pageID+"/attachments", nil)
	if err != nil {
		return nil, err
	}

	atts := make([]models.Attachment, 0, len(raw))
	for _, r := range raw {
		var payload struct {
			ID           string `json:"id"`
			Title        string `json:"title"`
			MediaType    string `json:"mediaType"`
			FileSize     int64  `json:"fileSize"`
			DownloadLink string `json:"downloadLink"`
			Links        struct {
				Download string `json:"download"`
			} `json:"_links"`
		}
		if err := json.Unmarshal(r, &payload); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}

		download := payload.DownloadLink
		if download == "" {
			download = payload.Links.Download
		}
		atts = append(atts, models.Attachment{
			ID:          payload.ID,
			Filename:    payload.Title,
			MediaType:   payload.MediaType,
			Size:        payload.FileSize,
			DownloadURL: download,
		})
	}
	return atts, nil
}

// Download fetches an attachment's binary content. Relative download
// links are rooted under the /wiki context path.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	if strings.HasPrefix(downloadURL, "/download/") || strings.HasPrefix(downloadURL, "/rest/") {
		downloadURL = "/wiki" + downloadURL
	}
	resp, err := c.request(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}
	return data, nil
}
