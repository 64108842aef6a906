// internal/extract/selector.go
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/harbourline/ingest/internal/parse"
)

// fromSelectors is the highest-precision strategy: CSS-selector driven
// extraction via goquery. Requires an item selector; skipped otherwise.
func (c *Cascade) fromSelectors(page Page) []Candidate {
	if c.rules.ItemSelector == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil
	}

	var candidates []Candidate
	doc.Find(c.rules.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		title := c.selectText(item, c.rules.TitleSelector)
		if title == "" {
			title = defaultTitle(item)
		}
		candidate := Candidate{
			Title:    title,
			URL:      c.selectHref(item, c.rules.URLSelector),
			DateText: c.selectDate(item),
			Venue:    c.selectText(item, c.rules.VenueSelector),
		}
		if html, err := goquery.OuterHtml(item); err == nil {
			candidate.Raw = html
		}
		if candidate.Title == "" && candidate.URL == "" {
			return
		}
		candidates = append(candidates, candidate)
	})
	return candidates
}

// selectText returns trimmed text for selector within item, falling back to
// the item's own anchor text when no selector is configured.
func (c *Cascade) selectText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return squeeze(item.Find(selector).First().Text())
}

// selectHref resolves the item's link: the configured selector's href, the
// first nested anchor, or the item itself when it is an <a>.
func (c *Cascade) selectHref(item *goquery.Selection, selector string) string {
	target := item
	if selector != "" {
		target = item.Find(selector).First()
	} else if !item.Is("a") {
		target = item.Find("a").First()
	}
	if href, ok := target.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}

// selectDate reads the configured date selector, preferring a machine
// datetime attribute over display text, then falls back to sniffing the
// item's text for a date.
func (c *Cascade) selectDate(item *goquery.Selection) string {
	if c.rules.DateSelector != "" {
		node := item.Find(c.rules.DateSelector).First()
		if dt, ok := node.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			return strings.TrimSpace(dt)
		}
		if text := squeeze(node.Text()); text != "" {
			return text
		}
	}
	if dt, ok := item.Find("time").First().Attr("datetime"); ok {
		return strings.TrimSpace(dt)
	}
	return parse.FindDate(item.Text())
}

// squeeze trims and collapses internal whitespace.
func squeeze(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// defaultTitle falls back to anchor text when a selector strategy found a
// link but no title selector was configured.
func defaultTitle(item *goquery.Selection) string {
	if a := item.Find("a").First(); a.Length() > 0 {
		return squeeze(a.Text())
	}
	return squeeze(item.Text())
}
