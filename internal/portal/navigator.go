// Package portal discovers downloadable crime data resources on the dataset
// listing page. All page-shape assumptions live here, expressed as
// declarative patterns (filename regexes, an extension allow-list, a handful
// of selectors) so that portal drift is fixed by editing data, not control
// flow.
package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// userAgent mirrors a desktop browser; the portal serves 403s to obvious
// bot agents.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// formatByExt is the extension allow-list.
var formatByExt = map[string]domain.Format{
	".csv":  domain.FormatCSV,
	".xlsx": domain.FormatXLSX,
}

// Pattern matches resource filenames for one source kind.
type Pattern struct {
	Kind  domain.SourceKind
	Match *regexp.Regexp

	// PreferHistorical selects a "(Historical)" file over a fresher
	// recent-months extract; the borough backfile only exists in the
	// historical resource.
	PreferHistorical bool
}

// DefaultPatterns matches the MPS recorded crime summary resources,
// tolerating the "(Historical)" / "(most recent 24 months)" suffix drift.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Kind: domain.KindBorough, Match: regexp.MustCompile(`(?i)MPS Borough Level Crime.*\.(csv|xlsx)$`), PreferHistorical: true},
		{Kind: domain.KindWard, Match: regexp.MustCompile(`(?i)MPS Ward Level Crime.*\.(csv|xlsx)$`)},
		{Kind: domain.KindLSOA, Match: regexp.MustCompile(`(?i)MPS LSOA Level Crime.*\.(csv|xlsx)$`)},
	}
}

// Navigator reads the dataset listing page and selects the best candidate
// resource per source kind. It performs no downloads and has no side
// effects.
type Navigator struct {
	client     *http.Client
	listingURL string
	patterns   []Pattern
	fallback   map[domain.SourceKind]string
	logger     *slog.Logger
}

// New creates a Navigator. fallback maps source kinds to well-known direct
// download URLs used when the listing page is unreachable or blocked; pass
// nil to disable the fallback.
func New(listingURL string, timeout time.Duration, patterns []Pattern, fallback map[domain.SourceKind]string, logger *slog.Logger) *Navigator {
	return &Navigator{
		client:     &http.Client{Timeout: timeout},
		listingURL: listingURL,
		patterns:   patterns,
		fallback:   fallback,
		logger:     logger,
	}
}

// Discover returns at most one candidate per configured pattern. Finding
// nothing is not a fault: the caller decides whether an empty result is
// fatal.
func (n *Navigator) Discover(ctx context.Context) ([]domain.Candidate, error) {
	doc, err := n.fetchListing(ctx)
	if err != nil {
		if len(n.fallback) > 0 {
			n.logger.Warn("listing page unavailable, using fallback resource urls", "error", err)
			return n.fallbackCandidates(), nil
		}
		return nil, err
	}

	found := n.scan(doc)

	candidates := make([]domain.Candidate, 0, len(found))
	for _, p := range n.patterns {
		best, ok := selectBest(found[p.Kind], p.PreferHistorical)
		if !ok {
			n.logger.Warn("no resource matched pattern", "kind", p.Kind, "pattern", p.Match.String())
			continue
		}
		candidates = append(candidates, best)
	}
	return candidates, nil
}

func (n *Navigator) fetchListing(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.listingURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: n.listingURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: n.listingURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{URL: n.listingURL, Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: n.listingURL, Err: fmt.Errorf("parse listing html: %w", err)}
	}
	return doc, nil
}

// scan walks every anchor on the page and buckets pattern matches by kind.
// Matching is by decoded filename and extension, never by DOM position, so
// listing redesigns only break discovery when the links themselves change.
func (n *Navigator) scan(doc *goquery.Document) map[domain.SourceKind][]domain.Candidate {
	base, _ := url.Parse(n.listingURL)
	found := make(map[domain.SourceKind][]domain.Candidate)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}

		filename, format, direct := filenameFromURL(abs)
		if !direct {
			// A matching link text without a file extension on the href
			// indicates a rendered-page download trigger.
			filename, format, direct = filenameFromURL(strings.TrimSpace(sel.Text()))
			if !direct {
				return
			}
		}
		requiresRender := !strings.EqualFold(path.Ext(filename), pathExt(abs))

		for _, p := range n.patterns {
			if !p.Match.MatchString(filename) {
				continue
			}
			found[p.Kind] = append(found[p.Kind], domain.Candidate{
				URL:            abs,
				Filename:       filename,
				Kind:           p.Kind,
				Format:         format,
				PeriodEnd:      coverageEnd(sel),
				RequiresRender: requiresRender,
			})
			break
		}
	})
	return found
}

// fallbackCandidates builds candidates from the configured direct URLs, in
// pattern order for determinism.
func (n *Navigator) fallbackCandidates() []domain.Candidate {
	kinds := make([]domain.SourceKind, 0, len(n.fallback))
	for kind := range n.fallback {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]domain.Candidate, 0, len(kinds))
	for _, kind := range kinds {
		u := n.fallback[kind]
		filename, format, ok := filenameFromURL(u)
		if !ok {
			n.logger.Warn("fallback url has no recognizable extension, skipping", "kind", kind, "url", u)
			continue
		}
		out = append(out, domain.Candidate{URL: u, Filename: filename, Kind: kind, Format: format})
	}
	return out
}

// selectBest picks the candidate with the latest declared coverage end,
// historical files first when the pattern prefers them.
func selectBest(candidates []domain.Candidate, preferHistorical bool) (domain.Candidate, bool) {
	var best domain.Candidate
	var ok bool
	for _, c := range candidates {
		switch {
		case !ok:
			best, ok = c, true
		case preferHistorical && isHistorical(c.Filename) && !isHistorical(best.Filename):
			best = c
		case preferHistorical && !isHistorical(c.Filename) && isHistorical(best.Filename):
			// keep the historical file
		case c.PeriodEnd.After(best.PeriodEnd):
			best = c
		}
	}
	return best, ok
}

func isHistorical(filename string) bool {
	return strings.Contains(strings.ToLower(filename), "historical")
}

// resolveURL absolutizes an href against the listing page URL.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return ref.String()
}

// pathExt returns the lowercased extension of a URL's path component.
func pathExt(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name, derr := url.PathUnescape(path.Base(parsed.Path))
	if derr != nil {
		name = path.Base(parsed.Path)
	}
	return strings.ToLower(path.Ext(name))
}

// filenameFromURL extracts the decoded filename and its format from a URL or
// link text. Returns false when the extension is not on the allow-list.
func filenameFromURL(raw string) (string, domain.Format, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	var name string
	if err == nil && parsed.Path != "" {
		name = path.Base(parsed.Path)
		if decoded, derr := url.PathUnescape(name); derr == nil {
			name = decoded
		}
	} else {
		name = strings.TrimSpace(raw)
	}
	format, ok := formatByExt[strings.ToLower(path.Ext(name))]
	if !ok {
		return "", "", false
	}
	return name, format, true
}

// coverageEnd parses the "From dd/mm/yyyy To dd/mm/yyyy" temporal coverage
// text near the link, walking up to the resource container. Zero when
// absent; the fetch time then stands in as the vintage.
func coverageEnd(sel *goquery.Selection) time.Time {
	text := sel.Closest("div.dp-container").Find(".dp-temporalcoverage").First().Text()
	_, after, found := strings.Cut(text, "To")
	if !found {
		return time.Time{}
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return time.Time{}
	}
	t, err := time.Parse("02/01/2006", fields[0])
	if err != nil {
		return time.Time{}
	}
	return t
}
