package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageSignals are the three independently-compared facts extracted from a
// key page's HTML.
type PageSignals struct {
	Title      string
	Canonical  string
	MetaRobots string
}

// ExtractPageSignals pulls exactly the <title> text, the canonical link
// href, and the meta-robots content from an HTML document. Each signal is
// compared independently downstream.
func ExtractPageSignals(body []byte) (PageSignals, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageSignals{}, fmt.Errorf("parse html: %w", err)
	}

	var signals PageSignals
	signals.Title = Scalar(doc.Find("title").First().Text())

	doc.Find("link").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if rel, _ := sel.Attr("rel"); strings.EqualFold(strings.TrimSpace(rel), "canonical") {
			href, _ := sel.Attr("href")
			signals.Canonical = Scalar(href)
			return false
		}
		return true
	})

	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if name, _ := sel.Attr("name"); strings.EqualFold(strings.TrimSpace(name), "robots") {
			content, _ := sel.Attr("content")
			signals.MetaRobots = LowerScalar(content)
			return false
		}
		return true
	})

	return signals, nil
}
