// Package sitemap expands sitemap XML into concrete page URLs.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

// Resolver fetches and recursively expands sitemaps. Expansion is bounded
// both by a page-URL cap and by a child-sitemap cap so adversarial or
// enormous sitemap trees cannot blow up a run.
type Resolver struct {
	fetcher     monitor.Fetcher
	maxPages    int
	maxChildren int
	logger      *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(fetcher monitor.Fetcher, maxPages, maxChildren int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPages <= 0 {
		maxPages = 100
	}
	if maxChildren <= 0 {
		maxChildren = 10
	}
	return &Resolver{
		fetcher:     fetcher,
		maxPages:    maxPages,
		maxChildren: maxChildren,
		logger:      logger,
	}
}

// Resolve expands sitemapURL into page URLs. It returns a sample (the
// first maxPages of the sorted distinct URL set, so source ordering and
// duplication never shift the sample window), the total number of
// distinct page URLs, and an error only when the root sitemap could not
// be fetched. An unparseable or empty sitemap yields an empty list with
// a nil error; callers treat that as "sitemap unusable", distinct from
// a fetch failure.
func (r *Resolver) Resolve(ctx context.Context, sitemapURL string) ([]string, int, error) {
	res := r.fetcher.Fetch(ctx, sitemapURL)
	if !res.OK() {
		return nil, 0, fmt.Errorf("fetch sitemap %s: %s (status %d)", sitemapURL, res.ErrorClass, res.StatusCode)
	}

	root, err := parse(res.Body)
	if err != nil {
		r.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil, 0, nil
	}

	seen := make(map[string]struct{})
	collect := func(urls []string) {
		for _, u := range urls {
			seen[u] = struct{}{}
		}
	}
	collect(root.pages)

	fetched := 0
	queue := root.children
	for len(queue) > 0 && fetched < r.maxChildren {
		childURL := queue[0]
		queue = queue[1:]
		fetched++

		childRes := r.fetcher.Fetch(ctx, childURL)
		if !childRes.OK() {
			r.logger.Warn("child sitemap fetch failed",
				zap.String("url", childURL),
				zap.String("class", string(childRes.ErrorClass)),
			)
			continue
		}
		child, err := parse(childRes.Body)
		if err != nil {
			r.logger.Warn("child sitemap parse failed", zap.String("url", childURL), zap.Error(err))
			continue
		}
		collect(child.pages)
		queue = append(queue, child.children...)
	}

	all := make([]string, 0, len(seen))
	for u := range seen {
		all = append(all, u)
	}
	sort.Strings(all)

	pages := all
	if len(pages) > r.maxPages {
		pages = pages[:r.maxPages]
	}
	return pages, len(all), nil
}

type document struct {
	pages    []string
	children []string
}

// parse walks the XML tokens matching element local names only, so any
// namespace (including vendor-specific ones) is accepted. <url><loc> text
// is a page URL; <sitemap><loc> text is a child sitemap.
func parse(data []byte) (document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var (
		stack []string
		doc   document
		buf   strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return document{}, fmt.Errorf("decode sitemap xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, strings.ToLower(t.Name.Local))
			buf.Reset()
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			if len(stack) >= 2 && stack[len(stack)-1] == "loc" {
				loc := strings.TrimSpace(buf.String())
				if loc != "" {
					switch stack[len(stack)-2] {
					case "url":
						doc.pages = append(doc.pages, loc)
					case "sitemap":
						doc.children = append(doc.children, loc)
					}
				}
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			buf.Reset()
		}
	}
	return doc, nil
}
