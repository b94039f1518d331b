package shelf

import (
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/htmlutil"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/telemetry"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/html"
)

var tracer = telemetry.Tracer("godric.lib.scrapers.goodreads.shelf")
var meter = telemetry.Meter("godric.lib.scrapers.goodreads.shelf")

var pagesScraped, _ = meter.Int64Counter(
	"godric.shelf.pages_scraped",
	metric.WithDescription("reading list pages fetched and parsed"),
)
var rowsSkipped, _ = meter.Int64Counter(
	"godric.shelf.rows_skipped",
	metric.WithDescription("reading list rows that could not be parsed"),
)

var (
	ErrCatalog        = errors.New("failed to scrape catalog")
	ErrPageCountParse = errors.New("failed to parse page count")
	ErrRow            = errors.New("malformed catalog row")
)

const DefaultShelf = "to-read"

// Entry is a single book on the reading list.
type Entry struct {
	// Position is the 1-based position of the book on the list.
	Position uint
	Title    string
	Link     *url.URL
}

type RowError struct {
	Page uint
	// Row is the 0-based index of the row on its page.
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("page %d row %d: %s", e.Page, e.Row, e.Err.Error())
}

func (e RowError) Unwrap() error {
	return e.Err
}

type Catalog struct {
	// Entries are sorted ascending by position.
	Entries []Entry
	Skipped []RowError
}

// DiscoverPageCount reads the page count off the pagination menu, the
// second to last link is the last page (the last is "next").
func DiscoverPageCount(ctx context.Context, doc *goquery.Document, selectors core.Selectors) (uint, error) {
	pager := doc.Find(selectors.Pager)
	if pager.Length() == 0 {
		return 1, nil
	}

	links := htmlutil.GetAnchors(ctx, pager.First().Find(selectors.PagerLink))
	if len(links) < 2 {
		return 0, fmt.Errorf("%w: pagination menu has %d links", ErrPageCountParse, len(links))
	}
	label := links[len(links)-2].Name
	count, err := strconv.ParseUint(label, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrPageCountParse, label, err)
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: page count is zero", ErrPageCountParse)
	}
	return uint(count), nil
}

// firstText is the first non-blank text node under n, the title link keeps
// series information in a nested element after it.
func firstText(n *html.Node) string {
	if n.Type == html.TextNode {
		return htmlutil.CleanText(n.Data)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		text := firstText(child)
		if text != "" {
			return text
		}
	}
	return ""
}

func scrapeRow(row *goquery.Selection, base *url.URL, selectors core.Selectors) (Entry, error) {
	positionText := htmlutil.SelectionText(row.Find(selectors.RowPosition))
	if positionText == "" {
		return Entry{}, fmt.Errorf("%w: missing position", ErrRow)
	}
	position, err := strconv.ParseUint(positionText, 10, 32)
	if err != nil || position == 0 {
		return Entry{}, fmt.Errorf("%w: bad position %q", ErrRow, positionText)
	}

	anchor := row.Find(selectors.RowTitle).First()
	if anchor.Length() == 0 {
		return Entry{}, fmt.Errorf("%w: missing title link", ErrRow)
	}
	title := firstText(anchor.Nodes[0])
	if title == "" {
		return Entry{}, fmt.Errorf("%w: empty title", ErrRow)
	}
	href, ok := anchor.Attr("href")
	if !ok {
		return Entry{}, fmt.Errorf("%w: title link has no href", ErrRow)
	}
	link, err := htmlutil.ResolveHref(base, href)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad link %q: %w", ErrRow, href, err)
	}

	return Entry{
		Position: uint(position),
		Title:    title,
		Link:     link,
	}, nil
}

// ScrapePage reads every row on a reading list page, rows missing a field are
// reported in the returned errors instead of failing the page.
func ScrapePage(ctx context.Context, doc *goquery.Document, page uint, base *url.URL, selectors core.Selectors) ([]Entry, []RowError) {
	ctx, span := tracer.Start(ctx, "ScrapePage")
	defer span.End()

	var entries []Entry
	var skipped []RowError
	doc.Find(selectors.Row).Each(func(i int, row *goquery.Selection) {
		entry, err := scrapeRow(row, base, selectors)
		if err != nil {
			rowErr := RowError{Page: page, Row: i, Err: err}
			slog.WarnContext(ctx, "skipping catalog row", "page", page, "row", i, "err", err)
			skipped = append(skipped, rowErr)
			return
		}
		entries = append(entries, entry)
	})

	span.SetAttributes(
		attribute.Int("page", int(page)),
		attribute.Int("entries", len(entries)),
		attribute.Int("skipped", len(skipped)),
	)
	return entries, skipped
}

// RandomDelay waits between 20 and 30 milliseconds.
func RandomDelay(ctx context.Context) error {
	ms, err := random.IntRange(20, 31)
	if err != nil || ms < 20 || ms > 30 {
		ms = 25
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}

type Scraper struct {
	client *core.Client
	shelf  string
	delay  func(ctx context.Context) error
}

type ScraperOptions struct {
	// defaults to "to-read"
	Shelf string
	// Delay runs before every page after the first, defaults to RandomDelay.
	Delay func(ctx context.Context) error
}

func NewScraper(client *core.Client, opts ScraperOptions) *Scraper {
	if opts.Shelf == "" {
		opts.Shelf = DefaultShelf
	}
	if opts.Delay == nil {
		opts.Delay = RandomDelay
	}
	return &Scraper{
		client: client,
		shelf:  opts.Shelf,
		delay:  opts.Delay,
	}
}

// PagePath is the path of a page of the account's reading list.
func (s *Scraper) PagePath(accountId core.AccountId, page uint) string {
	return fmt.Sprintf(
		"/review/list/%s?shelf=%s&page=%d",
		url.PathEscape(string(accountId)),
		url.QueryEscape(s.shelf),
		page,
	)
}

func (s *Scraper) scrapePage(ctx context.Context, accountId core.AccountId, page uint) (*goquery.Document, []Entry, []RowError, error) {
	doc, err := s.client.FetchDocument(ctx, s.PagePath(accountId, page))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: page %d: %w", ErrCatalog, page, err)
	}
	entries, skipped := ScrapePage(ctx, doc, page, s.client.BaseUrl, s.client.Selectors)
	pagesScraped.Add(ctx, 1)
	rowsSkipped.Add(ctx, int64(len(skipped)))
	return doc, entries, skipped, nil
}

// ScrapeAll scrapes every page of the account's reading list. Any page
// failure fails the whole scrape.
func (s *Scraper) ScrapeAll(ctx context.Context, accountId core.AccountId) (Catalog, error) {
	ctx, span := tracer.Start(ctx, "ScrapeAll")
	defer span.End()

	span.SetAttributes(attribute.String("account_id", string(accountId)))

	fail := func(err error, msg string) (Catalog, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return Catalog{}, err
	}

	doc, entries, skipped, err := s.scrapePage(ctx, accountId, 1)
	if err != nil {
		return fail(err, "failed to scrape first page")
	}
	pageCount, err := DiscoverPageCount(ctx, doc, s.client.Selectors)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrCatalog, err), "failed to discover page count")
	}
	span.SetAttributes(attribute.Int("page_count", int(pageCount)))
	slog.InfoContext(ctx, "discovered reading list pages", "account_id", accountId, "pages", pageCount)

	for page := uint(2); page <= pageCount; page++ {
		err = s.delay(ctx)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrCatalog, err), "cancelled")
		}
		_, pageEntries, pageSkipped, err := s.scrapePage(ctx, accountId, page)
		if err != nil {
			return fail(err, "failed to scrape page")
		}
		entries = append(entries, pageEntries...)
		skipped = append(skipped, pageSkipped...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Position < entries[j].Position
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].Position == entries[i-1].Position {
			err = fmt.Errorf(
				"%w: position %d is shared by %q and %q",
				ErrCatalog, entries[i].Position,
				entries[i-1].Title, entries[i].Title,
			)
			return fail(err, "duplicate position")
		}
	}

	span.SetAttributes(
		attribute.Int("entries", len(entries)),
		attribute.Int("skipped", len(skipped)),
	)
	return Catalog{Entries: entries, Skipped: skipped}, nil
}

// Titles lists the titles of the entries in order.
func (c Catalog) Titles() []string {
	titles := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		titles[i] = e.Title
	}
	return titles
}

