package book

import (
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/htmlutil"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/scrapers/goodreads/shelf"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/textutil"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = telemetry.Tracer("godric.lib.scrapers.goodreads.book")
var meter = telemetry.Meter("godric.lib.scrapers.goodreads.book")

var detailResults, _ = meter.Int64Counter(
	"godric.book.results",
	metric.WithDescription("detail fetches by outcome"),
)

var (
	ErrDetailFetch = errors.New("failed to fetch book details")
	ErrDetailParse = errors.New("failed to parse book details")
	ErrCoverFetch  = errors.New("failed to fetch book cover")
)

const PlaceholderTitle = "loading"

type Record struct {
	Source    *url.URL
	Title     string
	Author    string
	Summary   string
	Cover     []byte
	CoverType string
}

// Placeholder stands in for an entry's record until it has been fetched.
func Placeholder(entry shelf.Entry) Record {
	return Record{
		Source: entry.Link,
		Title:  PlaceholderTitle,
		Cover:  []byte{},
	}
}

type Detail struct {
	Title    string
	Author   string
	Summary  string
	CoverSrc string
}

func first(doc *goquery.Document, selector, field string) (*goquery.Selection, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: no %s (%s)", ErrDetailParse, field, selector)
	}
	return sel, nil
}

// ParseDetail reads the details off a book page.
func ParseDetail(doc *goquery.Document, selectors core.Selectors) (Detail, error) {
	title, err := first(doc, selectors.DetailTitle, "title")
	if err != nil {
		return Detail{}, err
	}
	author, err := first(doc, selectors.DetailAuthor, "author")
	if err != nil {
		return Detail{}, err
	}
	summary, err := first(doc, selectors.DetailSummary, "summary")
	if err != nil {
		return Detail{}, err
	}
	cover, err := first(doc, selectors.DetailCover, "cover")
	if err != nil {
		return Detail{}, err
	}
	src, ok := cover.Attr("src")
	if !ok || src == "" {
		return Detail{}, fmt.Errorf("%w: cover has no source", ErrDetailParse)
	}

	return Detail{
		Title:    htmlutil.SelectionText(title),
		Author:   htmlutil.SelectionText(author),
		Summary:  htmlutil.SelectionText(summary),
		CoverSrc: src,
	}, nil
}

type Fetcher struct {
	client *core.Client
}

func NewFetcher(client *core.Client) Fetcher {
	return Fetcher{client: client}
}

// Fetch gets the detail page of an entry and its cover image.
func (f Fetcher) Fetch(ctx context.Context, entry shelf.Entry) (Record, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	if entry.Link == nil {
		err := fmt.Errorf("%w: entry %d has no link", ErrDetailFetch, entry.Position)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no link")
		return Record{}, err
	}
	span.SetAttributes(
		attribute.Int("position", int(entry.Position)),
		attribute.String("url", entry.Link.String()),
	)

	doc, err := f.client.FetchDocument(ctx, entry.Link.String())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDetailFetch, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch detail page")
		return Record{}, err
	}
	detail, err := ParseDetail(doc, f.client.Selectors)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse detail page")
		return Record{}, err
	}

	if !textutil.SameTitle(entry.Title, detail.Title) {
		slog.WarnContext(
			ctx, "detail page title differs from reading list title",
			"position", entry.Position,
			"list_title", entry.Title,
			"page_title", detail.Title,
			"similarity", textutil.TitleSimilarity(entry.Title, detail.Title),
		)
	}

	coverUrl, err := htmlutil.ResolveHref(entry.Link, detail.CoverSrc)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCoverFetch, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad cover source")
		return Record{}, err
	}
	res, err := f.client.Fetch(ctx, coverUrl.String())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCoverFetch, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch cover")
		return Record{}, err
	}
	cover := res.Body()
	coverType := res.Header().Get("content-type")
	if coverType == "" {
		coverType = http.DetectContentType(cover)
	}

	return Record{
		Source:    entry.Link,
		Title:     detail.Title,
		Author:    detail.Author,
		Summary:   detail.Summary,
		Cover:     cover,
		CoverType: coverType,
	}, nil
}

type Result struct {
	// Index is the index of the entry in the sequence given to Start.
	Index  int
	Record Record
	Err    error
}

type Pipeline struct {
	fetcher     Fetcher
	settleDelay time.Duration
}

type PipelineOptions struct {
	// SettleDelay is waited after each entry, defaults to 50 milliseconds.
	SettleDelay time.Duration
}

func NewPipeline(client *core.Client, opts PipelineOptions) *Pipeline {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 50 * time.Millisecond
	}
	return &Pipeline{
		fetcher:     NewFetcher(client),
		settleDelay: opts.SettleDelay,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrDetailParse):
		return "parse_error"
	case errors.Is(err, ErrCoverFetch):
		return "cover_error"
	}
	return "fetch_error"
}

// Start fetches the entries one after another in the background. Results
// arrive in entry order, the channel is closed after the last entry or once
// ctx is done.
func (p *Pipeline) Start(ctx context.Context, entries []shelf.Entry) <-chan Result {
	out := make(chan Result)

	go func() {
		defer close(out)

		ctx, span := tracer.Start(ctx, "Pipeline")
		defer span.End()
		span.SetAttributes(attribute.Int("entries", len(entries)))

		for i, entry := range entries {
			record, err := p.fetcher.Fetch(ctx, entry)
			if err != nil {
				slog.WarnContext(ctx, "failed to fetch book details", "position", entry.Position, "err", err)
			}
			detailResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))

			select {
			case out <- Result{Index: i, Record: record, Err: err}:
			case <-ctx.Done():
				return
			}

			if i == len(entries)-1 {
				return
			}
			select {
			case <-time.After(p.settleDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
