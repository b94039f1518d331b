package browser

import (
	"context"
	"errors"
	"fmt"
	cdpbrowser "godric-backend/lib/cdp"
	"godric-backend/lib/osutil"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/webdriver"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("godric.lib.browser")

var (
	ErrDriverSpawn         = errors.New("failed to start browser driver")
	ErrEndpointUnreachable = errors.New("browser automation endpoint unreachable")
	ErrElementNotFound     = errors.New("element not found")
	ErrAutomationProtocol  = errors.New("browser automation endpoint errored")
)

type Protocol string

const (
	ProtocolWebDriver Protocol = "webdriver"
	ProtocolCDP       Protocol = "cdp"
)

type DriverConfig struct {
	Browser Kind
	// Address is the host:port of the driver (or devtools endpoint), defaults
	// to the driver's usual port on localhost.
	Address  string
	Headless bool
	Protocol Protocol
	// Remote endpoints are managed elsewhere and are never spawned.
	Remote bool
	// DriverPath overrides the driver executable looked up on PATH.
	DriverPath string

	ConnectTimeout time.Duration
	ElementTimeout time.Duration
	HttpTimeout    time.Duration
}

func (c DriverConfig) withDefaults() DriverConfig {
	if c.Address == "" {
		c.Address = c.Browser.DefaultAddress()
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolWebDriver
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = 10 * time.Second
	}
	if c.HttpTimeout <= 0 {
		c.HttpTimeout = 30 * time.Second
	}
	return c
}

// Element is a handle to an element found in the current page.
type Element struct {
	selector Selector
	id       string
	node     *cdp.Node
}

func (e Element) Selector() Selector {
	return e.selector
}

// Launcher opens sessions, its zero value looks for running drivers in the
// process table and spawns drivers from PATH.
type Launcher struct {
	// FindProcess reports whether a process with the given name is running.
	FindProcess func(ctx context.Context, name string) (bool, error)

	spawned func(cmd *exec.Cmd)
}

func Open(ctx context.Context, config DriverConfig) (*Session, error) {
	return Launcher{}.Open(ctx, config)
}

type Session struct {
	config DriverConfig
	wd     *webdriver.Client
	chrome *cdpbrowser.Browser

	driver       *exec.Cmd
	driverExited chan struct{}
	closed       bool
}

// Open connects to the automation endpoint described by `config`, spawning
// its driver first when it is local and not already running.
func (l Launcher) Open(ctx context.Context, config DriverConfig) (*Session, error) {
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()

	config = config.withDefaults()
	span.SetAttributes(
		attribute.String("browser", config.Browser.String()),
		attribute.String("address", config.Address),
		attribute.String("protocol", string(config.Protocol)),
		attribute.Bool("headless", config.Headless),
		attribute.Bool("remote", config.Remote),
	)

	var s *Session
	var err error
	switch config.Protocol {
	case ProtocolWebDriver:
		s, err = l.openWebDriver(ctx, config)
	case ProtocolCDP:
		s, err = openCDP(ctx, config)
	default:
		err = fmt.Errorf("%w: unknown protocol %q", ErrEndpointUnreachable, config.Protocol)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open browser session")
		return nil, err
	}
	return s, nil
}

func openCDP(ctx context.Context, config DriverConfig) (*Session, error) {
	if !config.Browser.Chromium() {
		return nil, fmt.Errorf("%w: %s does not support the devtools protocol", ErrEndpointUnreachable, config.Browser)
	}

	opts := cdpbrowser.Options{
		Headless:       config.Headless,
		ExecPath:       config.DriverPath,
		ElementTimeout: config.ElementTimeout,
		ActionTimeout:  config.HttpTimeout,
	}
	if config.Remote {
		opts.RemoteAddress = config.Address
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	chrome, err := cdpbrowser.Open(connectCtx, opts)
	if err != nil {
		if config.Remote {
			return nil, fmt.Errorf("%w: %w", ErrEndpointUnreachable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDriverSpawn, err)
	}
	return &Session{config: config, chrome: chrome}, nil
}

func (l Launcher) openWebDriver(ctx context.Context, config DriverConfig) (*Session, error) {
	client, err := webdriver.NewClient(webdriver.ClientOptions{
		BaseUrl:        "http://" + config.Address,
		ElementTimeout: config.ElementTimeout,
		HttpTimeout:    config.HttpTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEndpointUnreachable, err)
	}
	s := &Session{config: config, wd: client}

	if !config.Remote {
		err = l.ensureDriver(ctx, s)
		if err != nil {
			return nil, err
		}
	}

	err = s.connect(ctx)
	if err != nil {
		s.killDriver()
		return nil, err
	}
	return s, nil
}

func (l Launcher) ensureDriver(ctx context.Context, s *Session) error {
	find := l.FindProcess
	if find == nil {
		find = osutil.ProcessRunning
	}

	name := s.config.Browser.DriverName()
	running, err := find(ctx, name)
	if err != nil {
		slog.WarnContext(ctx, "failed to list processes, assuming driver is not running", "driver", name, "err", err)
	}
	if running {
		slog.InfoContext(ctx, "driver already running", "driver", name)
		return nil
	}

	path := s.config.DriverPath
	if path == "" {
		path = name
	}
	args, err := s.config.Browser.DriverArgs(s.config.Address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDriverSpawn, err)
	}

	cmd := exec.Command(path, args...)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDriverSpawn, path, err)
	}
	slog.InfoContext(ctx, "spawned driver", "driver", path, "args", strings.Join(args, " "), "pid", cmd.Process.Pid)

	exited := make(chan struct{})
	s.driver = cmd
	s.driverExited = exited
	go func() {
		err := cmd.Wait()
		slog.Debug("driver exited", "driver", path, "err", err)
		close(exited)
	}()
	if l.spawned != nil {
		l.spawned(cmd)
	}
	return nil
}

// connect waits for the driver to report ready and creates the remote
// session, both within the connect timeout.
func (s *Session) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := s.wd.Status(ctx)
		if err == nil && status.Ready {
			break
		}
		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("driver not ready: %s", status.Message)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrEndpointUnreachable, s.config.Address, lastErr)
		case <-s.driverExited:
			return fmt.Errorf("%w: driver exited before accepting connections", ErrDriverSpawn)
		case <-ticker.C:
		}
	}

	_, err := s.wd.NewSession(ctx, s.config.Browser.Capabilities(s.config.Headless))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEndpointUnreachable, err)
	}
	return nil
}

func (s *Session) killDriver() error {
	if s.driver == nil {
		return nil
	}
	cmd := s.driver
	s.driver = nil

	err := cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-s.driverExited:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("driver (pid %d) did not exit after being killed", cmd.Process.Pid)
	}
	return nil
}

// OwnsDriver reports whether closing the session stops the driver process.
func (s *Session) OwnsDriver() bool {
	return s.driver != nil
}

func (s *Session) Config() DriverConfig {
	return s.config
}

func classify(err error) error {
	if errors.Is(err, webdriver.ErrNoSuchElement) || errors.Is(err, cdpbrowser.ErrNoSuchElement) {
		return fmt.Errorf("%w: %w", ErrElementNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrAutomationProtocol, err)
}

func (s *Session) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: session is closed", ErrAutomationProtocol)
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.checkOpen()
	if err != nil {
		return err
	}
	if s.chrome != nil {
		err = s.chrome.Navigate(ctx, url)
	} else {
		err = s.wd.Navigate(ctx, url)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Session) Find(ctx context.Context, selector Selector) (Element, error) {
	err := s.checkOpen()
	if err != nil {
		return Element{}, err
	}
	query, xpath := selector.query()

	if s.chrome != nil {
		node, err := s.chrome.Query(ctx, query, xpath)
		if err != nil {
			return Element{}, classify(err)
		}
		return Element{selector: selector, node: node}, nil
	}

	using := webdriver.CssSelector
	if xpath {
		using = webdriver.XPath
	}
	id, err := s.wd.FindElement(ctx, using, query)
	if err != nil {
		return Element{}, classify(err)
	}
	return Element{selector: selector, id: id}, nil
}

func (s *Session) Click(ctx context.Context, el Element) error {
	err := s.checkOpen()
	if err != nil {
		return err
	}
	if s.chrome != nil {
		err = s.chrome.Click(ctx, el.node)
	} else {
		err = s.wd.Click(ctx, el.id)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Session) Type(ctx context.Context, el Element, text string) error {
	err := s.checkOpen()
	if err != nil {
		return err
	}
	if s.chrome != nil {
		err = s.chrome.SendKeys(ctx, el.node, text)
	} else {
		err = s.wd.SendKeys(ctx, el.id, text)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Session) Attribute(ctx context.Context, el Element, name string) (string, bool, error) {
	err := s.checkOpen()
	if err != nil {
		return "", false, err
	}
	var value string
	var ok bool
	if s.chrome != nil {
		value, ok, err = s.chrome.Attribute(ctx, el.node, name)
	} else {
		value, ok, err = s.wd.Attribute(ctx, el.id, name)
	}
	if err != nil {
		return "", false, classify(err)
	}
	return value, ok, nil
}

// Cookies exports the browser's cookies so plain http clients can continue
// its session.
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	err := s.checkOpen()
	if err != nil {
		return nil, err
	}
	if s.chrome != nil {
		cookies, err := s.chrome.Cookies(ctx)
		if err != nil {
			return nil, classify(err)
		}
		return cookies, nil
	}

	cookies, err := s.wd.Cookies(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = c.HttpCookie()
	}
	return out, nil
}

// Close ends the remote session and stops the driver if this session spawned
// it. Calling it more than once does nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, span := tracer.Start(context.Background(), "Close")
	defer span.End()

	var errs []error
	if s.chrome != nil {
		s.chrome.Close()
	}
	if s.wd != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, s.wd.DeleteSession(ctx))
		cancel()
	}
	errs = append(errs, s.killDriver())

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close browser session cleanly")
		slog.Warn("failed to close browser session cleanly", "err", err)
	}
	return err
}
