package webdriver

import (
	"context"
	"errors"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, fake *testutil.FakeWebDriver) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:        fake.Server.URL,
		ElementTimeout: 300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestSessionLifecycle(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/webdriver")
	defer cleanup()

	ctx := context.Background()
	fake := testutil.NewFakeWebDriver(t)
	client := newTestClient(t, fake)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Ready)

	err = client.Navigate(ctx, "https://example.com")
	require.ErrorIs(t, err, ErrNoSession)

	id, err := client.NewSession(ctx, map[string]any{"browserName": "firefox"})
	require.NoError(t, err)
	require.Equal(t, "fake-session", id)
	require.Equal(t, "firefox", fake.Capabilities()["browserName"])

	require.NoError(t, client.Navigate(ctx, "https://example.com/sign_in"))
	require.Equal(t, []string{"https://example.com/sign_in"}, fake.Navigations())

	require.NoError(t, client.DeleteSession(ctx))
	// a second delete has no session to end
	require.NoError(t, client.DeleteSession(ctx))

	created, deleted := fake.Sessions()
	require.Equal(t, 1, created)
	require.Equal(t, 1, deleted)
}

func TestElements(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/webdriver")
	defer cleanup()

	ctx := context.Background()
	fake := testutil.NewFakeWebDriver(t)
	fake.AddElement("#ap_email", testutil.FakeElement{Hidden: 3})
	fake.AddElement("a.profile", testutil.FakeElement{
		Attributes: map[string]string{"href": "/user/show/42-reader"},
	})
	fake.AddElement("//a[@class='profile']", testutil.FakeElement{})

	client := newTestClient(t, fake)
	_, err := client.NewSession(ctx, nil)
	require.NoError(t, err)

	// appears after a few polls
	email, err := client.FindElement(ctx, CssSelector, "#ap_email")
	require.NoError(t, err)
	require.NoError(t, client.SendKeys(ctx, email, "reader@example.com"))
	require.NoError(t, client.Click(ctx, email))
	require.Equal(t, "reader@example.com", fake.Typed("#ap_email"))
	require.Equal(t, []string{"#ap_email"}, fake.Clicked())

	profile, err := client.FindElement(ctx, CssSelector, "a.profile")
	require.NoError(t, err)

	href, ok, err := client.Attribute(ctx, profile, "href")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/user/show/42-reader", href)

	_, ok, err = client.Attribute(ctx, profile, "title")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = client.FindElement(ctx, XPath, "//a[@class='profile']")
	require.NoError(t, err)
	require.Equal(t, "xpath", fake.Strategy("//a[@class='profile']"))
	require.Equal(t, "css selector", fake.Strategy("a.profile"))

	start := time.Now()
	_, err = client.FindElement(ctx, CssSelector, "#missing")
	require.ErrorIs(t, err, ErrNoSuchElement)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	var responseErr *ResponseError
	require.True(t, errors.As(err, &responseErr))
	require.Equal(t, 404, responseErr.Status)
}

func TestCookies(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/webdriver")
	defer cleanup()

	ctx := context.Background()
	fake := testutil.NewFakeWebDriver(t)
	fake.SetCookies(
		testutil.FakeCookie{Name: "session-id", Value: "abc", Path: "/", Domain: ".goodreads.com"},
		testutil.FakeCookie{Name: "ubid-main", Value: "def", Path: "/", Domain: ".goodreads.com"},
	)

	client := newTestClient(t, fake)
	_, err := client.NewSession(ctx, nil)
	require.NoError(t, err)

	cookies, err := client.Cookies(ctx)
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	converted := cookies[0].HttpCookie()
	require.Equal(t, "session-id", converted.Name)
	require.Equal(t, "abc", converted.Value)
	require.Equal(t, ".goodreads.com", converted.Domain)
}

func TestSessionNotCreated(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/webdriver")
	defer cleanup()

	fake := testutil.NewFakeWebDriver(t)
	fake.FailSessions()
	client := newTestClient(t, fake)

	_, err := client.NewSession(context.Background(), nil)
	var responseErr *ResponseError
	require.True(t, errors.As(err, &responseErr))
	require.Equal(t, "session not created", responseErr.Code)
	require.NotErrorIs(t, err, ErrNoSuchElement)
}
