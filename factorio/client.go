package factorio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"factorio-server-manager/config"
	"factorio-server-manager/domain"
)

const (
	siteURL        = "https://www.factorio.com"
	modPortalURL   = "https://mods.factorio.com"
	defaultTimeout = 30 * time.Second

	// ModPageSize is the page size used when listing the mod portal.
	ModPageSize = 200

	maxErrorBody = 512
)

// Client handles communication with the download site and the mod portal.
type Client struct {
	SiteURL      string
	ModPortalURL string
	Username     string
	Token        string
	Cookie       string
	UserAgent    string
	HTTPClient   *http.Client

	// DownloadClient has no overall timeout; game archives are large and
	// downloads run until the peer closes the stream.
	DownloadClient *http.Client
}

// NewClient creates a client using the provided configuration.
func NewClient(cfg config.Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("USERAGENT is not configured")
	}

	return &Client{
		SiteURL:        siteURL,
		ModPortalURL:   modPortalURL,
		Username:       cfg.FactorioUsername,
		Token:          cfg.FactorioToken,
		Cookie:         cfg.FactorioCookie,
		UserAgent:      cfg.UserAgent,
		HTTPClient:     &http.Client{Timeout: defaultTimeout},
		DownloadClient: &http.Client{},
	}, nil
}

type requestOpts struct {
	query      url.Values
	withCookie bool
	stream     bool
}

func (c *Client) do(ctx context.Context, fullURL string, opts requestOpts, target any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if opts.query != nil {
		req.URL.RawQuery = opts.query.Encode()
	}

	req.Header.Set("User-Agent", c.UserAgent)
	if opts.withCookie && c.Cookie != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: c.Cookie})
	}

	httpClient := c.HTTPClient
	if opts.stream {
		req.Header.Set("Accept", "application/octet-stream")
		if c.DownloadClient != nil {
			httpClient = c.DownloadClient
		}
	} else if target != nil {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrRemoteAPI, redact(req.URL), err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return resp, fmt.Errorf("%w: received %d from %s: %s", domain.ErrRemoteAPI, resp.StatusCode, redact(req.URL), strings.TrimSpace(string(bodyBytes)))
	}

	if opts.stream {
		return resp, nil // Caller owns the body
	}

	defer resp.Body.Close()
	if target == nil {
		return resp, nil
	}
	switch t := target.(type) {
	case *[]byte:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp, fmt.Errorf("%w: reading %s: %v", domain.ErrRemoteAPI, redact(req.URL), err)
		}
		*t = b
	default:
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return resp, fmt.Errorf("%w: failed to decode json response from %s: %v", domain.ErrRemoteAPI, redact(req.URL), err)
		}
	}
	return resp, nil
}

// redact strips credentials from a URL before it reaches logs or users.
func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	if q.Has("token") {
		q.Set("token", "xxx")
		c.RawQuery = q.Encode()
	}
	return c.String()
}

func (c *Client) credentials() url.Values {
	q := url.Values{}
	q.Set("username", c.Username)
	q.Set("token", c.Token)
	return q
}

// LatestReleases returns the newest stable and experimental version numbers.
func (c *Client) LatestReleases(ctx context.Context) (*LatestReleases, error) {
	var latest LatestReleases
	if _, err := c.do(ctx, c.SiteURL+"/api/latest-releases", requestOpts{}, &latest); err != nil {
		return nil, fmt.Errorf("failed to get latest releases: %w", err)
	}
	return &latest, nil
}

// ArchiveLinks returns every game download path listed on the archive page.
func (c *Client) ArchiveLinks(ctx context.Context) ([]ArchiveLink, error) {
	var page []byte
	if _, err := c.do(ctx, c.SiteURL+"/download/archive", requestOpts{withCookie: true}, &page); err != nil {
		return nil, fmt.Errorf("failed to recover version list: %w", err)
	}
	return ParseArchiveLinks(strings.NewReader(string(page)))
}

// ModPage returns one page of the mod portal listing. Pages start at 1.
func (c *Client) ModPage(ctx context.Context, page, pageSize int) (*ModListPage, error) {
	q := c.credentials()
	q.Set("page_size", fmt.Sprint(pageSize))
	if page > 1 {
		q.Set("page", fmt.Sprint(page))
	}

	var out ModListPage
	if _, err := c.do(ctx, c.ModPortalURL+"/api/mods", requestOpts{query: q}, &out); err != nil {
		return nil, fmt.Errorf("failed to get mod page %d: %w", page, err)
	}
	return &out, nil
}

// ModDetail returns a mod with its full release list.
func (c *Client) ModDetail(ctx context.Context, name string) (*ModDetail, error) {
	var out ModDetail
	if _, err := c.do(ctx, c.ModPortalURL+"/api/mods/"+url.PathEscape(name)+"/full", requestOpts{}, &out); err != nil {
		return nil, fmt.Errorf("failed to get releases for mod '%s': %w", name, err)
	}
	return &out, nil
}

// Download is an open response stream.
type Download struct {
	Body io.ReadCloser
	// FileName comes from the Content-Disposition header, empty when absent.
	FileName string
	// Size is the announced Content-Length, -1 when unknown.
	Size int64
}

// DownloadGame opens a stream of a game archive at remotePath.
func (c *Client) DownloadGame(ctx context.Context, remotePath string) (*Download, error) {
	resp, err := c.do(ctx, c.SiteURL+"/get-download/"+strings.TrimPrefix(remotePath, "/"), requestOpts{withCookie: true, stream: true}, nil)
	if err != nil {
		return nil, err
	}
	return newDownload(resp), nil
}

// DownloadMod opens a stream of a mod file. downloadURL is the path published
// by the portal (for example /download/foo/5e9f...).
func (c *Client) DownloadMod(ctx context.Context, downloadURL string) (*Download, error) {
	full := c.ModPortalURL + "/" + strings.TrimPrefix(downloadURL, "/")
	resp, err := c.do(ctx, full, requestOpts{query: c.credentials(), stream: true}, nil)
	if err != nil {
		return nil, err
	}
	return newDownload(resp), nil
}

func newDownload(resp *http.Response) *Download {
	return &Download{
		Body:     resp.Body,
		FileName: FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
		Size:     resp.ContentLength,
	}
}

// ClientDownloadURL is the public link a player uses to fetch a game build.
func (c *Client) ClientDownloadURL(remotePath string) string {
	return c.SiteURL + "/get-download/" + strings.TrimPrefix(remotePath, "/")
}
