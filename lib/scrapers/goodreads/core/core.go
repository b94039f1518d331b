package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/restyutil"
	"godric-backend/lib/telemetry"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBaseUrl = "https://www.goodreads.com"

var ErrHttpStatus = errors.New("unexpected http status")

type Client struct {
	BaseUrl   *url.URL
	Http      *resty.Client
	Selectors Selectors
	jar       http.CookieJar
}

type ClientOptions struct {
	// defaults to https://www.goodreads.com
	BaseUrl string
	// defaults to 30 seconds
	Timeout   time.Duration
	Selectors Selectors
	// Cookies are usually exported from the browser that signed in.
	Cookies []*http.Cookie
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "godric.lib.scrapers.goodreads/http")
	restyutil.InstrumentClient(client, "goodreads", restyInstrumentOutput)

	c := &Client{
		BaseUrl:   baseUrl,
		Http:      client,
		Selectors: opts.Selectors,
		jar:       jar,
	}
	c.SetCookies(opts.Cookies)
	return c, nil
}

// SetCookies adds cookies to the jar as if the site had set them.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.jar.SetCookies(c.BaseUrl, cookies)
	slog.Debug("seeded cookie jar", "count", len(cookies), "host", c.BaseUrl.Host)
}

// ResolveLink resolves `href` against the site's base url.
func (c *Client) ResolveLink(href string) (*url.URL, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	return c.BaseUrl.ResolveReference(ref), nil
}

// Fetch gets `target` (a path or an absolute url) and fails on non-2xx
// responses.
func (c *Client) Fetch(ctx context.Context, target string) (*resty.Response, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	span.SetAttributes(attribute.String("target", target))

	res, err := c.Http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, err
	}
	if res.IsError() {
		err = fmt.Errorf("%w: %s %s", ErrHttpStatus, res.Status(), target)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status")
		return nil, err
	}
	return res, nil
}

func (c *Client) FetchDocument(ctx context.Context, target string) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:FetchDocument")
	defer span.End()

	res, err := c.Fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}
	return doc, nil
}
