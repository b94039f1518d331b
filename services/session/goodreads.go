package session

import (
	"context"
	"godric-backend/lib/browser"
	"godric-backend/lib/scrapers/goodreads/book"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/scrapers/goodreads/shelf"
	"net/http"
	"time"
)

type GoodreadsOptions struct {
	BaseUrl     string
	Shelf       string
	Selectors   core.Selectors
	HttpTimeout time.Duration
	SettleDelay time.Duration
	// PageDelay runs between reading list pages, defaults to shelf.RandomDelay.
	PageDelay func(ctx context.Context) error
	Launcher  browser.Launcher
}

type launcherOpener struct {
	launcher browser.Launcher
}

func (l launcherOpener) Open(ctx context.Context, config browser.DriverConfig) (Browser, error) {
	s, err := l.launcher.Open(ctx, config)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Goodreads wires the orchestrator to the goodreads scrapers.
func Goodreads(opts GoodreadsOptions) Dependencies {
	return Dependencies{
		Opener:        launcherOpener{launcher: opts.Launcher},
		Authenticator: core.NewAuthenticator(opts.BaseUrl, opts.Selectors),
		Connect: func(ctx context.Context, cookies []*http.Cookie) (Scraper, Pipeline, error) {
			client, err := core.NewClient(ctx, core.ClientOptions{
				BaseUrl:   opts.BaseUrl,
				Timeout:   opts.HttpTimeout,
				Selectors: opts.Selectors,
				Cookies:   cookies,
			})
			if err != nil {
				return nil, nil, err
			}
			scraper := shelf.NewScraper(client, shelf.ScraperOptions{
				Shelf: opts.Shelf,
				Delay: opts.PageDelay,
			})
			pipeline := book.NewPipeline(client, book.PipelineOptions{SettleDelay: opts.SettleDelay})
			return scraper, pipeline, nil
		},
	}
}
