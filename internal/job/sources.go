// internal/job/sources.go
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/harbourline/ingest/internal/extract"
	"github.com/harbourline/ingest/internal/normalize"
	"github.com/harbourline/ingest/internal/parse"
	"github.com/harbourline/ingest/pkg/types"
)

// runICS ingests the configured ICS calendar feeds. Each feed failure is
// recorded and the remaining feeds still run.
func (r *Runner) runICS(ctx context.Context, params Params, n *normalize.Normalizer, summary *types.RunSummary) []types.ScrapedRecord {
	var batch []types.ScrapedRecord
	for _, feedURL := range params.FeedURLs {
		if ctx.Err() != nil {
			break
		}
		sourceTag := "ics:" + hostOf(feedURL)
		data, err := r.fetcher.Get(ctx, feedURL)
		if err != nil {
			r.fail(summary, sourceTag, "fetch_failed %s: %v", feedURL, err)
			continue
		}
		n.SetSource(sourceTag)
		n.SetBase(feedURL)
		for _, event := range parse.ParseICS(string(data)) {
			rec, outcome := n.NormalizeICS(event)
			batch = r.record(batch, rec, outcome, summary)
		}
	}
	return batch
}

// runFeed ingests RSS/Atom feeds through gofeed, reusing the resilient
// fetcher for the transport so retry and politeness behaviour match the
// other sources.
func (r *Runner) runFeed(ctx context.Context, params Params, n *normalize.Normalizer, summary *types.RunSummary) []types.ScrapedRecord {
	parser := gofeed.NewParser()
	var batch []types.ScrapedRecord
	for _, feedURL := range params.FeedURLs {
		if ctx.Err() != nil {
			break
		}
		sourceTag := "feed:" + hostOf(feedURL)
		data, err := r.fetcher.Get(ctx, feedURL)
		if err != nil {
			r.fail(summary, sourceTag, "fetch_failed %s: %v", feedURL, err)
			continue
		}
		feed, err := parser.ParseString(string(data))
		if err != nil {
			r.fail(summary, sourceTag, "parse_failed %s: %v", feedURL, err)
			continue
		}
		n.SetSource(sourceTag)
		n.SetBase(feedURL)
		for _, item := range feed.Items {
			candidate := extract.Candidate{
				NativeID:    item.GUID,
				Title:       item.Title,
				URL:         item.Link,
				Description: item.Description,
			}
			if item.PublishedParsed != nil {
				candidate.DateText = item.PublishedParsed.UTC().Format(time.RFC3339)
			}
			rec, outcome := n.Normalize(candidate)
			batch = r.record(batch, rec, outcome, summary)
		}
	}
	return batch
}

// runHTML ingests listing pages through the extraction cascade. When
// jsonldOnly is set only structured data is considered (the "jsonld" source
// type); otherwise the full cascade runs and the source tag reflects the
// winning strategy.
func (r *Runner) runHTML(ctx context.Context, params Params, n *normalize.Normalizer, summary *types.RunSummary, jsonldOnly bool) []types.ScrapedRecord {
	rules := extract.CompileRules(params.HTML.RuleStrings, r.logger)
	cascade := extract.NewCascade(rules, r.logger)

	var batch []types.ScrapedRecord
	for _, listingURL := range params.HTML.ListingURLs {
		if ctx.Err() != nil {
			break
		}
		result := r.fetcher.FetchHTMLBestEffort(ctx, listingURL)
		if result.Err != nil {
			r.fail(summary, "html:generic", "fetch_failed %s: %v", listingURL, result.Err)
			continue
		}

		var candidates []extract.Candidate
		sourceTag := "html:generic"
		if jsonldOnly {
			candidates = extract.CandidatesFromJSONLD(parse.EventNodes(parse.ExtractJSONLD(result.HTML)))
			sourceTag = "html:jsonld"
			if len(candidates) == 0 {
				r.fail(summary, sourceTag, "no_jsonld %s", listingURL)
				continue
			}
		} else {
			var strategy string
			candidates, strategy = cascade.Extract(extract.Page{URL: result.FinalURL, HTML: result.HTML})
			if strategy == "jsonld" {
				sourceTag = "html:jsonld"
			}
			if len(candidates) == 0 {
				r.fail(summary, sourceTag, "no_items %s", listingURL)
				continue
			}
			r.logger.Debug("extraction strategy selected",
				zap.String("url", listingURL), zap.String("strategy", strategy))
		}

		n.SetSource(sourceTag)
		if rules.URLBase != "" {
			n.SetBase(rules.URLBase)
		} else {
			n.SetBase(result.FinalURL)
		}
		for _, candidate := range candidates {
			rec, outcome := n.Normalize(candidate)
			batch = r.record(batch, rec, outcome, summary)
		}
	}
	return batch
}

// placesResponse is the provider payload shape for the places source.
type placesResponse struct {
	Results []struct {
		PlaceID          string `json:"place_id"`
		Name             string `json:"name"`
		FormattedAddress string `json:"formatted_address"`
		Website          string `json:"website"`
	} `json:"results"`
}

// runPlaces ingests the configured places provider, paginating up to
// maxPages. The API key and base URL come from the environment; a missing
// key fails fast in Params.Validate before the run starts.
func (r *Runner) runPlaces(ctx context.Context, params Params, n *normalize.Normalizer, summary *types.RunSummary) []types.ScrapedRecord {
	base := os.Getenv("PLACES_API_URL")
	if base == "" {
		base = "https://maps.googleapis.com/maps/api/place/textsearch/json"
	}
	sourceTag := "places:" + hostOf(base)
	n.SetSource(sourceTag)
	n.SetBase(base)

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var batch []types.ScrapedRecord
	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		query := url.Values{}
		query.Set("query", params.City)
		query.Set("page", fmt.Sprint(page))
		query.Set("pageSize", fmt.Sprint(pageSize))
		query.Set("key", os.Getenv("PLACES_API_KEY"))
		pageURL := base + "?" + query.Encode()

		data, err := r.fetcher.Get(ctx, pageURL)
		if err != nil {
			r.fail(summary, sourceTag, "fetch_failed page %d: %v", page, err)
			break
		}
		var resp placesResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			r.fail(summary, sourceTag, "parse_failed page %d: %v", page, err)
			break
		}
		if len(resp.Results) == 0 {
			break
		}
		for _, place := range resp.Results {
			rec, outcome := n.Normalize(extract.Candidate{
				NativeID: place.PlaceID,
				Title:    place.Name,
				Address:  place.FormattedAddress,
				URL:      place.Website,
			})
			batch = r.record(batch, rec, outcome, summary)
		}
	}
	return batch
}

// hostOf returns the hostname of a URL, or the raw string when unparseable.
func hostOf(raw string) string {
	if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return raw
}
