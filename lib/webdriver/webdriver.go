package webdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"godric-backend/lib/restyutil"
	"godric-backend/lib/telemetry"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// the W3C web element identifier
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

type Strategy string

// Locator strategies, lib/browser lowers every selector to one of these.
const (
	CssSelector Strategy = "css selector"
	XPath       Strategy = "xpath"
)

type ClientOptions struct {
	// BaseUrl is the remote end, ex. http://127.0.0.1:4444
	BaseUrl string
	// ElementTimeout bounds how long FindElement keeps polling, defaults to
	// 10 seconds.
	ElementTimeout time.Duration
	// PollInterval defaults to 100 milliseconds.
	PollInterval time.Duration
	// HttpTimeout bounds every single command, defaults to 30 seconds.
	HttpTimeout time.Duration
}

type Client struct {
	http           *resty.Client
	elementTimeout time.Duration
	pollInterval   time.Duration
	sessionId      string
}

func NewClient(opts ClientOptions) (*Client, error) {
	_, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.HttpTimeout <= 0 {
		opts.HttpTimeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(opts.HttpTimeout)
	client.SetHeader("content-type", "application/json; charset=utf-8")
	client.SetHeader("accept", "application/json")

	telemetry.InstrumentResty(client, "godric.lib.webdriver/http")
	restyutil.InstrumentClient(client, "webdriver", restyInstrumentOutput)

	return &Client{
		http:           client,
		elementTimeout: opts.ElementTimeout,
		pollInterval:   opts.PollInterval,
	}, nil
}

type response struct {
	Value json.RawMessage `json:"value"`
}

type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetResult(&response{}).
		SetError(&response{})
	if body != nil {
		req.SetBody(body)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	if res.IsError() {
		out := &ResponseError{Status: res.StatusCode(), Code: "unknown error"}
		envelope, ok := res.Error().(*response)
		if ok && len(envelope.Value) > 0 {
			var value errorValue
			if json.Unmarshal(envelope.Value, &value) == nil && value.Error != "" {
				out.Code = value.Error
				out.Message = value.Message
			}
		}
		return nil, out
	}

	envelope, ok := res.Result().(*response)
	if !ok {
		return nil, fmt.Errorf("webdriver: unexpected response body %q", res.String())
	}
	return envelope.Value, nil
}

func (c *Client) sessionPath(elems ...string) (string, error) {
	if c.sessionId == "" {
		return "", ErrNoSession
	}
	path := "/session/" + url.PathEscape(c.sessionId)
	for _, e := range elems {
		path += "/" + url.PathEscape(e)
	}
	return path, nil
}

type Status struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	ctx, span := tracer.Start(ctx, "Status")
	defer span.End()

	value, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get status")
		return Status{}, err
	}
	var status Status
	err = json.Unmarshal(value, &status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode status")
		return Status{}, err
	}
	return status, nil
}

func (c *Client) SessionId() string {
	return c.sessionId
}

// NewSession creates a session that always matches the given capabilities.
func (c *Client) NewSession(ctx context.Context, capabilities map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "NewSession")
	defer span.End()

	if capabilities == nil {
		capabilities = map[string]any{}
	}
	value, err := c.do(ctx, http.MethodPost, "/session", map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": capabilities,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create session")
		return "", err
	}

	var session struct {
		SessionId string `json:"sessionId"`
	}
	err = json.Unmarshal(value, &session)
	if err != nil || session.SessionId == "" {
		err = fmt.Errorf("webdriver: new session response carries no session id: %s", string(value))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode session")
		return "", err
	}

	c.sessionId = session.SessionId
	span.SetAttributes(attribute.String("session_id", session.SessionId))
	return session.SessionId, nil
}

// DeleteSession ends the current session, it does nothing when there is none.
func (c *Client) DeleteSession(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "DeleteSession")
	defer span.End()

	path, err := c.sessionPath()
	if err != nil {
		return nil
	}
	c.sessionId = ""
	_, err = c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete session")
		return err
	}
	return nil
}

func (c *Client) Navigate(ctx context.Context, target string) error {
	ctx, span := tracer.Start(ctx, "Navigate")
	defer span.End()

	span.SetAttributes(attribute.String("url", target))

	path, err := c.sessionPath("url")
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, path, map[string]any{"url": target})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to navigate")
		return err
	}
	return nil
}

func (c *Client) findOnce(ctx context.Context, path string, using Strategy, value string) (string, error) {
	res, err := c.do(ctx, http.MethodPost, path, map[string]any{
		"using": string(using),
		"value": value,
	})
	if err != nil {
		return "", err
	}
	var ref map[string]string
	err = json.Unmarshal(res, &ref)
	if err != nil {
		return "", err
	}
	id, ok := ref[elementKey]
	if !ok || id == "" {
		return "", fmt.Errorf("webdriver: element reference missing from %s", string(res))
	}
	return id, nil
}

// FindElement returns the id of the first element matching the query, it
// retries while the remote end reports that nothing matched until the
// element timeout runs out.
func (c *Client) FindElement(ctx context.Context, using Strategy, value string) (string, error) {
	ctx, span := tracer.Start(ctx, "FindElement")
	defer span.End()

	span.SetAttributes(
		attribute.String("using", string(using)),
		attribute.String("value", value),
	)

	path, err := c.sessionPath("element")
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.elementTimeout)
	for {
		id, err := c.findOnce(ctx, path, using, value)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNoSuchElement) || !time.Now().Before(deadline) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to find element")
			return "", err
		}

		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "context done")
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) Click(ctx context.Context, elementId string) error {
	ctx, span := tracer.Start(ctx, "Click")
	defer span.End()

	path, err := c.sessionPath("element", elementId, "click")
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, path, map[string]any{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to click element")
		return err
	}
	return nil
}

// SendKeys types text into an element, the request body is never dumped.
func (c *Client) SendKeys(ctx context.Context, elementId string, text string) error {
	ctx, span := tracer.Start(ctx, "SendKeys")
	defer span.End()

	path, err := c.sessionPath("element", elementId, "value")
	if err != nil {
		return err
	}
	_, err = c.do(restyutil.WithSensitiveBody(ctx), http.MethodPost, path, map[string]any{
		"text": text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send keys")
		return err
	}
	return nil
}

// Attribute reads an element attribute, ok is false when the attribute is
// absent.
func (c *Client) Attribute(ctx context.Context, elementId, name string) (value string, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "Attribute")
	defer span.End()

	path, err := c.sessionPath("element", elementId, "attribute", name)
	if err != nil {
		return "", false, err
	}
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read attribute")
		return "", false, err
	}

	var out *string
	err = json.Unmarshal(res, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode attribute")
		return "", false, err
	}
	if out == nil {
		return "", false, nil
	}
	return *out, true, nil
}

type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HttpOnly bool   `json:"httpOnly,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

func (c Cookie) HttpCookie() *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if c.Expiry > 0 {
		out.Expires = time.Unix(c.Expiry, 0)
	}
	switch c.SameSite {
	case "Lax":
		out.SameSite = http.SameSiteLaxMode
	case "Strict":
		out.SameSite = http.SameSiteStrictMode
	case "None":
		out.SameSite = http.SameSiteNoneMode
	}
	return out
}

func (c *Client) Cookies(ctx context.Context) ([]Cookie, error) {
	ctx, span := tracer.Start(ctx, "Cookies")
	defer span.End()

	path, err := c.sessionPath("cookie")
	if err != nil {
		return nil, err
	}
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get cookies")
		return nil, err
	}
	var cookies []Cookie
	err = json.Unmarshal(res, &cookies)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode cookies")
		return nil, err
	}
	span.SetAttributes(attribute.Int("count", len(cookies)))
	return cookies, nil
}
