package core

import (
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/browser"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAccountIdParse = errors.New("failed to parse account id")

	ErrSignInNavigation     = errors.New("sign-in navigation failed")
	ErrCredentialEntry      = errors.New("credential entry failed")
	ErrIdentifierExtraction = errors.New("account identifier extraction failed")
)

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) String() string {
	return "Credentials{<redacted>}"
}

func (c Credentials) LogValue() slog.Value {
	return slog.StringValue("<redacted>")
}

type AccountId string

// BrowserSession is the part of a browser session needed to sign in.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	Find(ctx context.Context, selector browser.Selector) (browser.Element, error)
	Click(ctx context.Context, el browser.Element) error
	Type(ctx context.Context, el browser.Element, text string) error
	Attribute(ctx context.Context, el browser.Element, name string) (string, bool, error)
}

type Authenticator struct {
	SignInUrl string
	Selectors Selectors
}

func NewAuthenticator(baseUrl string, selectors Selectors) Authenticator {
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	return Authenticator{
		SignInUrl: strings.TrimSuffix(baseUrl, "/") + "/user/sign_in",
		Selectors: selectors,
	}
}

func (a Authenticator) clickThrough(ctx context.Context, session BrowserSession, selector browser.Selector) error {
	el, err := session.Find(ctx, selector)
	if err != nil {
		return err
	}
	return session.Click(ctx, el)
}

func (a Authenticator) typeInto(ctx context.Context, session BrowserSession, selector browser.Selector, text string) error {
	el, err := session.Find(ctx, selector)
	if err != nil {
		return err
	}
	return session.Type(ctx, el, text)
}

// SignIn signs into the site with the email flow and returns the account id
// of the signed in user.
func (a Authenticator) SignIn(ctx context.Context, session BrowserSession, creds Credentials) (AccountId, error) {
	ctx, span := tracer.Start(ctx, "SignIn")
	defer span.End()

	fail := func(step error, err error, msg string) (AccountId, error) {
		if !errors.Is(err, ErrAccountIdParse) {
			err = fmt.Errorf("%w: %w: %w", ErrAuthentication, step, err)
		} else {
			err = fmt.Errorf("%w: %w", step, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return "", err
	}

	err := session.Navigate(ctx, a.SignInUrl)
	if err != nil {
		return fail(ErrSignInNavigation, err, "failed to open sign in page")
	}
	err = a.clickThrough(ctx, session, a.Selectors.SignInButton)
	if err != nil {
		return fail(ErrSignInNavigation, err, "failed to choose email sign in")
	}

	err = a.typeInto(ctx, session, a.Selectors.Email, creds.Email)
	if err != nil {
		return fail(ErrCredentialEntry, err, "failed to enter email")
	}
	err = a.typeInto(ctx, session, a.Selectors.Password, creds.Password)
	if err != nil {
		return fail(ErrCredentialEntry, err, "failed to enter password")
	}
	err = a.clickThrough(ctx, session, a.Selectors.Submit)
	if err != nil {
		return fail(ErrCredentialEntry, err, "failed to submit credentials")
	}

	// the profile menu only shows up once the credentials were accepted
	profile, err := session.Find(ctx, a.Selectors.ProfileMenu)
	if err != nil {
		return fail(ErrIdentifierExtraction, err, "failed to find profile menu")
	}
	href, ok, err := session.Attribute(ctx, profile, "href")
	if err != nil {
		return fail(ErrIdentifierExtraction, err, "failed to read profile link")
	}
	if !ok {
		return fail(ErrIdentifierExtraction, fmt.Errorf("%w: profile menu has no link", ErrAccountIdParse), "profile menu has no link")
	}

	id, err := ParseAccountId(href)
	if err != nil {
		return fail(ErrIdentifierExtraction, err, "failed to parse account id")
	}

	span.SetAttributes(attribute.String("account_id", string(id)))
	slog.InfoContext(ctx, "signed in", "account_id", id)
	return id, nil
}

// ParseAccountId extracts the account id from a profile link such as
// /user/show/176878294-some-reader.
func ParseAccountId(href string) (AccountId, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAccountIdParse, err)
	}

	idx := strings.LastIndex(u.Path, "/")
	segment := u.Path[idx+1:]
	if segment == "" {
		return "", fmt.Errorf("%w: no path segment in %q", ErrAccountIdParse, href)
	}

	token, _, _ := strings.Cut(segment, "-")
	if token == "" {
		return "", fmt.Errorf("%w: no identifier in segment %q", ErrAccountIdParse, segment)
	}
	return AccountId(token), nil
}
