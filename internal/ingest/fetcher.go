// Package ingest pulls finished generations from upstream RSS/Atom feeds
// into the record store.
package ingest

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/feedpool/internal/database"
	"github.com/bryan-buckman/feedpool/internal/log"
	"github.com/bryan-buckman/feedpool/internal/metrics"
	"github.com/bryan-buckman/feedpool/internal/model"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel fetches for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel fetches for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	delay       time.Duration
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		delay:       delay,
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < dl.delay {
			timer := time.NewTimer(dl.delay - elapsed)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// Fetcher pulls upstream feeds into the store.
type Fetcher struct {
	db            database.Store
	parser        *gofeed.Parser
	sanitizer     *bluemonday.Policy
	concurrency   int
	domainLimiter *domainLimiter
	logger        zerolog.Logger
	now           func() time.Time
}

// NewFetcher creates a new fetcher with concurrency based on database type.
func NewFetcher(db database.Store) *Fetcher {
	concurrency := MaxConcurrencySQLite
	if db.SupportsHighConcurrency() {
		concurrency = MaxConcurrencyPostgres
	}
	return &Fetcher{
		db:            db,
		parser:        gofeed.NewParser(),
		sanitizer:     bluemonday.StrictPolicy(),
		concurrency:   concurrency,
		domainLimiter: newDomainLimiter(DelayBetweenDomainRequests),
		logger:        log.WithComponent("ingest"),
		now:           time.Now,
	}
}

// FetchSource fetches and parses a single upstream feed, storing new
// records. Returns the number of new records added.
func (f *Fetcher) FetchSource(ctx context.Context, src model.IngestSource) (int, error) {
	domain := extractDomain(src.URL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", src.URL, err)
	}
	defer f.domainLimiter.release(domain)

	parsed, err := f.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		metrics.RecordIngestFetchError()
		_ = f.db.UpdateSourceError(src.ID, err.Error())
		return 0, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}

	now := f.now()
	newCount := 0
	for _, item := range parsed.Items {
		rec, ok := f.toRecord(src, item, now)
		if !ok {
			metrics.RecordIngestItem("skipped")
			continue
		}
		isNew, err := f.db.AddRecord(ctx, &rec)
		if err != nil {
			metrics.RecordIngestItem("error")
			f.logger.Warn().Err(err).Str("record", rec.ID).Str("source", src.URL).Msg("store record failed")
			continue
		}
		if isNew {
			newCount++
			metrics.RecordIngestItem("new")
		} else {
			metrics.RecordIngestItem("duplicate")
		}
	}

	if err := f.db.UpdateSourceFetched(src.ID, now); err != nil {
		f.logger.Warn().Err(err).Int64("source_id", src.ID).Msg("update last_fetched failed")
	}
	return newCount, nil
}

// toRecord maps a feed item to a ContentRecord. Items without a stable
// identifier are rejected; items without media are kept as incomplete.
func (f *Fetcher) toRecord(src model.IngestSource, item *gofeed.Item, now time.Time) (model.ContentRecord, bool) {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	if guid == "" {
		return model.ContentRecord{}, false
	}

	created := now
	if item.PublishedParsed != nil {
		created = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		created = *item.UpdatedParsed
	}

	desc := f.plainText(item.Description)
	if desc == "" {
		desc = f.plainText(item.Title)
	}

	var kind model.Kind
	if len(item.Categories) > 0 {
		kind = model.ParseKind(item.Categories[0])
	} else {
		kind = model.KindTextToImage
	}

	return model.ContentRecord{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(src.URL+"#"+guid)).String(),
		Author:      itemAuthor(item),
		Description: desc,
		MediaRef:    mediaRef(item),
		CreatedAt:   created.UTC(),
		Kind:        kind,
	}, true
}

// plainText strips markup and collapses whitespace.
func (f *Fetcher) plainText(s string) string {
	s = html.UnescapeString(f.sanitizer.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func itemAuthor(item *gofeed.Item) string {
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return item.DublinCoreExt.Creator[0]
	}
	return ""
}

// mediaRef finds the artifact URL: the parser's item image, an image
// enclosure, a media:content image, then the first <img> in the body.
func mediaRef(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, c := range media["content"] {
			if c.Attrs["medium"] == "image" || strings.HasPrefix(c.Attrs["type"], "image/") {
				return c.Attrs["url"]
			}
		}
	}
	for _, body := range []string{item.Content, item.Description} {
		if src := firstImage(body); src != "" {
			return src
		}
	}
	return ""
}

func firstImage(body string) string {
	if !strings.Contains(body, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}

// FetchAll fetches every source with the configured concurrency and
// returns a map of source ID -> new record count. Individual source
// failures are logged and skipped.
func (f *Fetcher) FetchAll(ctx context.Context) (map[int64]int, error) {
	sources, err := f.db.GetSources()
	if err != nil {
		return nil, err
	}
	results := make(map[int64]int, len(sources))
	if len(sources) == 0 {
		return results, nil
	}
	f.logger.Info().Int("sources", len(sources)).Int("concurrency", f.concurrency).Msg("fetching upstream feeds")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, src := range sources {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			count, err := f.FetchSource(gctx, src)
			if err != nil {
				f.logger.Warn().Err(err).Str("source", src.URL).Msg("fetch failed")
				return nil
			}
			mu.Lock()
			results[src.ID] = count
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
