// Package page resolves a browser tab for a URL given on the command line,
// for running the panel without the extension.
package page

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/lotas/ragex/internal/types"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var client = &http.Client{Timeout: 15 * time.Second}

// Lookup fetches rawURL and returns a tab titled after the page's readable
// title, falling back to the hostname.
func Lookup(ctx context.Context, rawURL string) (types.Tab, error) {
	tab := types.Tab{URL: rawURL}
	if !tab.IsHTTP() {
		return tab, fmt.Errorf("skipping non-HTTP URL: %s", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return tab, fmt.Errorf("parse %s: invalid URL", rawURL)
	}
	tab.Title = u.Hostname()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tab, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return tab, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return tab, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return tab, fmt.Errorf("extract readable content from %s: %w", rawURL, err)
	}
	if title := strings.TrimSpace(article.Title); title != "" {
		tab.Title = title
	}
	return tab, nil
}

// Static reports a fixed tab as the active one.
type Static struct {
	Tab types.Tab
}

func (s Static) CurrentTab(ctx context.Context) (types.Tab, error) {
	return s.Tab, nil
}
