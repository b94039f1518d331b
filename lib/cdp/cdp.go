package cdp

import (
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/telemetry"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("godric.lib.cdp")

var ErrNoSuchElement = errors.New("no such element")

type Options struct {
	// RemoteAddress is the host:port of a browser started with
	// --remote-debugging-port, when empty a browser is launched and owned by
	// the returned Browser.
	RemoteAddress string
	// ExecPath overrides the browser binary chromedp looks up.
	ExecPath string
	Headless bool
	// ElementTimeout bounds how long Query waits for a match, defaults to 10
	// seconds.
	ElementTimeout time.Duration
	// ActionTimeout bounds every other action, defaults to 30 seconds.
	ActionTimeout time.Duration
}

type Browser struct {
	ctx            context.Context
	cancel         func()
	elementTimeout time.Duration
	actionTimeout  time.Duration
}

func allocator(opts Options) (context.Context, context.CancelFunc) {
	if opts.RemoteAddress != "" {
		return chromedp.NewRemoteAllocator(context.Background(), "ws://"+opts.RemoteAddress)
	}

	execOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	return chromedp.NewExecAllocator(context.Background(), execOpts...)
}

// Open attaches to (or launches) a browser and opens a tab in it.
func Open(ctx context.Context, opts Options) (*Browser, error) {
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()

	span.SetAttributes(
		attribute.String("remote_address", opts.RemoteAddress),
		attribute.Bool("headless", opts.Headless),
	)

	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = 10 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}

	allocCtx, allocCancel := allocator(opts)
	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug("chromedp", "message", fmt.Sprintf(format, args...))
		}),
	)

	var once sync.Once
	b := &Browser{
		ctx: browserCtx,
		cancel: func() {
			once.Do(func() {
				browserCancel()
				allocCancel()
			})
		},
		elementTimeout: opts.ElementTimeout,
		actionTimeout:  opts.ActionTimeout,
	}

	err := b.start(ctx)
	if err != nil {
		b.cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start browser")
		return nil, err
	}
	return b, nil
}

// start runs the first action, which launches the browser (or connects to
// it). The browser lives only as long as the context of that first Run, so it
// runs on b.ctx directly and a watchdog tears the browser down when startup
// outlasts the action timeout.
func (b *Browser) start(ctx context.Context) error {
	watchdog := time.AfterFunc(b.actionTimeout, b.cancel)
	stop := context.AfterFunc(ctx, b.cancel)

	err := chromedp.Run(b.ctx, network.Enable())
	fired := !watchdog.Stop()
	stop()

	switch {
	case err == nil && b.ctx.Err() == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case fired:
		return fmt.Errorf("browser did not start within %s: %w", b.actionTimeout, context.DeadlineExceeded)
	case err == nil:
		return b.ctx.Err()
	}
	return err
}

// run executes actions in the browser tab, it stops early when either ctx is
// done or the timeout passes.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	ctx, span := tracer.Start(ctx, "Navigate")
	defer span.End()

	span.SetAttributes(attribute.String("url", url))
	err := b.run(ctx, b.actionTimeout, chromedp.Navigate(url))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to navigate")
		return err
	}
	return nil
}

// Query waits for the first node matching `selector`, an xpath expression
// when `xpath` is set and a css selector otherwise.
func (b *Browser) Query(ctx context.Context, selector string, xpath bool) (*cdp.Node, error) {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()

	span.SetAttributes(attribute.String("selector", selector))

	by := chromedp.ByQuery
	if xpath {
		by = chromedp.BySearch
	}

	var nodes []*cdp.Node
	err := b.run(ctx, b.elementTimeout, chromedp.Nodes(selector, &nodes, by))
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s", ErrNoSuchElement, selector)
	}
	if err == nil && len(nodes) == 0 {
		err = fmt.Errorf("%w: %s", ErrNoSuchElement, selector)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query node")
		return nil, err
	}
	return nodes[0], nil
}

func (b *Browser) Click(ctx context.Context, node *cdp.Node) error {
	ctx, span := tracer.Start(ctx, "Click")
	defer span.End()

	err := b.run(ctx, b.actionTimeout, chromedp.MouseClickNode(node))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to click node")
		return err
	}
	return nil
}

func (b *Browser) SendKeys(ctx context.Context, node *cdp.Node, text string) error {
	ctx, span := tracer.Start(ctx, "SendKeys")
	defer span.End()

	err := b.run(ctx, b.actionTimeout, chromedp.SendKeys([]cdp.NodeID{node.NodeID}, text, chromedp.ByNodeID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send keys")
		return err
	}
	return nil
}

// Attribute reads a live attribute value off the node.
func (b *Browser) Attribute(ctx context.Context, node *cdp.Node, name string) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "Attribute")
	defer span.End()

	var value string
	var ok bool
	err := b.run(ctx, b.actionTimeout, chromedp.AttributeValue(
		[]cdp.NodeID{node.NodeID}, name, &value, &ok, chromedp.ByNodeID,
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read attribute")
		return "", false, err
	}
	return value, ok, nil
}

func (b *Browser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	ctx, span := tracer.Start(ctx, "Cookies")
	defer span.End()

	var cookies []*network.Cookie
	err := b.run(ctx, b.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get cookies")
		return nil, err
	}

	out := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = HttpCookie(c)
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// Close closes the tab, a launched browser is shut down as well.
func (b *Browser) Close() {
	b.cancel()
}

func HttpCookie(c *network.Cookie) *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	// session cookies report an expiry of -1
	if c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		out.Expires = time.Unix(int64(sec), int64(frac*1e9))
	}
	switch c.SameSite {
	case network.CookieSameSiteLax:
		out.SameSite = http.SameSiteLaxMode
	case network.CookieSameSiteStrict:
		out.SameSite = http.SameSiteStrictMode
	case network.CookieSameSiteNone:
		out.SameSite = http.SameSiteNoneMode
	}
	return out
}
