// Package search provides a web-search tool backed by the DuckDuckGo HTML
// endpoint. Results come from scraping the result anchors; DuckDuckGo's
// redirect wrapper is unwrapped so callers see the target URL.
package search

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/weftworks/loom/internal/tool"
)

const (
	endpoint          = "https://html.duckduckgo.com/html/"
	defaultMaxResults = 5
)

var (
	anchorPattern = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// Result is one search hit.
type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type searchTool struct {
	client *resty.Client
}

// New returns the search tool with a default HTTP client.
func New() tool.Tool {
	return NewWithClient(resty.New())
}

// NewWithClient returns the search tool using the supplied resty client.
// Tests point the client at a local server.
func NewWithClient(client *resty.Client) tool.Tool {
	return &searchTool{client: client}
}

func (t *searchTool) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "search",
		Description: "Searches the web and returns result titles and URLs.",
	}
}

func (t *searchTool) Schema() tool.Schema {
	return tool.Schema{Args: []tool.Arg{
		{Name: "query", Type: "string", Required: true, Description: "Search terms"},
		{Name: "max_results", Type: "integer", Description: "Maximum results to return (default 5)"},
	}}
}

func (t *searchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	maxResults := defaultMaxResults
	if raw, ok := args["max_results"]; ok {
		switch n := raw.(type) {
		case float64:
			maxResults = int(n)
		case int:
			maxResults = n
		}
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("search request: status %d", resp.StatusCode())
	}

	results := parseResults(resp.String(), maxResults)
	return map[string]any{"query": query, "results": results}, nil
}

func parseResults(body string, limit int) []Result {
	matches := anchorPattern.FindAllStringSubmatch(body, -1)
	results := make([]Result, 0, limit)
	for _, m := range matches {
		if len(results) >= limit {
			break
		}
		href := cleanURL(html.UnescapeString(m[1]))
		title := strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(m[2], "")))
		if href == "" || title == "" {
			continue
		}
		results = append(results, Result{Title: title, URL: href})
	}
	return results
}

// cleanURL unwraps DuckDuckGo's /l/?uddg=<target> redirect wrapper.
func cleanURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		if decoded, derr := url.QueryUnescape(target); derr == nil {
			return decoded
		}
		return target
	}
	return href
}
