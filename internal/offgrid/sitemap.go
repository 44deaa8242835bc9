package offgrid

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type sitemapDoc struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// discoverSitemap walks a sitemap (and any sitemap index it points to) and
// returns every <loc>. Locations found before an error are still returned.
func (l *Lifecycle) discoverSitemap(ctx context.Context, root string) ([]string, error) {
	first, err := resolveAddress(l.cfg.origin, root)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	queue := []string{first}
	var locs []string

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return locs, err
		}
		smURL := queue[0]
		queue = queue[1:]
		if _, ok := seen[smURL]; ok {
			continue
		}
		seen[smURL] = struct{}{}

		doc, err := l.fetchSitemap(ctx, smURL)
		if err != nil {
			return locs, fmt.Errorf("fetch sitemap %q: %w", smURL, err)
		}
		for _, nested := range doc.Sitemaps {
			if nested = strings.TrimSpace(nested); nested == "" {
				continue
			}
			if address, err := resolveAddress(l.cfg.origin, nested); err == nil {
				queue = append(queue, address)
			}
		}
		for _, loc := range doc.URLs {
			if loc = strings.TrimSpace(loc); loc != "" {
				locs = append(locs, loc)
			}
		}
	}
	return locs, nil
}

func (l *Lifecycle) fetchSitemap(ctx context.Context, address string) (sitemapDoc, error) {
	u, err := parseAbs(address)
	if err != nil {
		return sitemapDoc{}, err
	}
	resp, err := l.fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: u, Header: make(http.Header)})
	if err != nil {
		return sitemapDoc{}, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		snippet := resp.Body
		if len(snippet) > 2048 {
			snippet = snippet[:2048]
		}
		return sitemapDoc{}, fmt.Errorf("unexpected status %d: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	body := resp.Body
	// .gz sitemaps may arrive already decoded when the server also sets Content-Encoding.
	if strings.HasSuffix(strings.ToLower(u.Path), ".gz") || (len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b) {
		if gz, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
			if unzipped, err := io.ReadAll(gz); err == nil {
				body = unzipped
			}
			_ = gz.Close()
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return sitemapDoc{}, err
	}
	return doc, nil
}
