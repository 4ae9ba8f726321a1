// Package fetch retrieves full article text for the background search
// pipeline. It extracts readable content locally and can route through
// the r.jina.ai reader service instead when configured.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/newswave/internal/config"
)

const jinaReaderBase = "https://r.jina.ai/"

// invalidIndicators mark reader responses that are consent walls,
// block pages or other non-article output.
var invalidIndicators = []string{
	"blocked until",
	"ddos attack",
	"consent.yahoo.com",
	"collectconsent",
	"warning: target url",
	"404 not found",
	"access denied",
	"please enable javascript",
}

// ContentFetcher fetches full article text via HTTP.
type ContentFetcher struct {
	client    *http.Client
	useJina   bool
	jinaKey   string
	minLength int
}

// NewContentFetcher creates a content fetcher from config.
func NewContentFetcher(cfg config.Content) *ContentFetcher {
	timeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	minLength := cfg.MinLength
	if minLength == 0 {
		minLength = 100
	}
	return &ContentFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		useJina:   cfg.UseJina,
		jinaKey:   os.Getenv(cfg.JinaAPIKeyEnv),
		minLength: minLength,
	}
}

// FetchAll fetches content for every URL, returning a map of URL to
// extracted text. URLs that yield nothing are absent from the map.
// After one hard HTTP failure for a domain, remaining URLs on that
// domain are skipped for the rest of the batch.
func (f *ContentFetcher) FetchAll(ctx context.Context, urls []string) map[string]string {
	results := make(map[string]string)
	failedDomains := make(map[string]struct{})

	for _, articleURL := range urls {
		if ctx.Err() != nil {
			break
		}

		domain := hostOf(articleURL)
		if _, failed := failedDomains[domain]; failed {
			continue
		}

		content, err := f.Fetch(ctx, articleURL)
		if err != nil {
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("HTTP error for %s — skipping remaining from %s", articleURL, domain)
			continue
		}
		if content == "" {
			log.Printf("No extractable content from: %s", articleURL)
			continue
		}
		results[articleURL] = content
	}

	return results
}

// Fetch retrieves one article's text. A hard HTTP failure returns an
// error; an unextractable page returns an empty string and no error,
// so callers can fall back to source-provided descriptions.
func (f *ContentFetcher) Fetch(ctx context.Context, articleURL string) (string, error) {
	if f.useJina {
		content, err := f.fetchJina(ctx, articleURL)
		if err == nil && content != "" {
			return content, nil
		}
		if err != nil {
			log.Printf("Jina fetch failed for %s: %v", articleURL, err)
		}
		// Fall through to local extraction.
	}
	return f.fetchDirect(ctx, articleURL)
}

func (f *ContentFetcher) fetchDirect(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; newswave/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil // connection error, not HTTP error
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(strings.NewReader(string(bodyBytes)), parsedURL)
	if err == nil {
		text := strings.TrimSpace(article.TextContent)
		if len(text) >= f.minLength {
			return text, nil
		}
	}

	// Readability came up short; try plain paragraph scraping.
	text := extractParagraphs(bodyBytes)
	if len(text) >= f.minLength {
		return text, nil
	}
	return "", nil
}

// fetchJina retrieves the article through the r.jina.ai reader, which
// returns pre-extracted plain text.
func (f *ContentFetcher) fetchJina(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jinaReaderBase+articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; newswave/1.0)")
	if f.jinaKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.jinaKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	// Error responses come back as JSON; code 451 means the domain is
	// blocked for the reader.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Code != 0 {
			log.Printf("Jina rejected %s (code %d): %s", articleURL, errResp.Code, errResp.Message)
			return "", nil
		}
	}
	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	content := strings.TrimSpace(string(bodyBytes))
	if len(content) < f.minLength {
		return "", nil
	}

	if indicator := invalidIndicatorIn(content); indicator != "" {
		log.Printf("Invalid reader content for %s: %q", articleURL, indicator)
		return "", nil
	}

	return content, nil
}

// invalidIndicatorIn returns the first matched invalid-content marker,
// or an empty string when the content looks like a real article.
func invalidIndicatorIn(content string) string {
	lowered := strings.ToLower(content)
	for _, indicator := range invalidIndicators {
		if strings.Contains(lowered, indicator) {
			return indicator
		}
	}
	return ""
}

// extractParagraphs pulls paragraph text out of raw HTML, preferring
// article and main containers over the whole document.
func extractParagraphs(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}

	for _, selector := range []string{"article p", "main p", "p"} {
		var parts []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 40 {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}
	return ""
}

func hostOf(articleURL string) string {
	u, err := url.Parse(articleURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
