package core

import (
	"context"
	"fmt"
	"godric-backend/lib/browser"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/testutil"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAccountId(t *testing.T) {
	testCases := []struct {
		href   string
		expect AccountId
		fails  bool
	}{
		{href: "https://www.goodreads.com/user/show/176878294-testy-mctestface", expect: "176878294"},
		{href: "/user/show/42-reader", expect: "42"},
		{href: "/user/show/42", expect: "42"},
		{href: "/user/show/42-reader?ref=nav_profile", expect: "42"},
		{href: "/user/show/", fails: true},
		{href: "/user/show/-reader", fails: true},
		{href: "", fails: true},
	}

	for _, test := range testCases {
		t.Run(test.href, func(t *testing.T) {
			id, err := ParseAccountId(test.href)
			if test.fails {
				require.ErrorIs(t, err, ErrAccountIdParse)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expect, id)
		})
	}
}

func TestCredentialsNeverPrinted(t *testing.T) {
	creds := Credentials{Email: "reader@example.com", Password: "hunter2"}
	require.NotContains(t, fmt.Sprint(creds), "hunter2")
	require.NotContains(t, fmt.Sprintf("%v %+v", creds, creds), "hunter2")

	var out strings.Builder
	logger := slog.New(slog.NewTextHandler(&out, nil))
	logger.Info("launch", "credentials", creds)
	require.NotContains(t, out.String(), "hunter2")
	require.NotContains(t, out.String(), "reader@example.com")
}

func openFake(t *testing.T, fake *testutil.FakeWebDriver) *browser.Session {
	launcher := browser.Launcher{FindProcess: func(context.Context, string) (bool, error) { return true, nil }}
	session, err := launcher.Open(context.Background(), browser.DriverConfig{
		Address:        fake.Address(),
		ConnectTimeout: time.Second,
		ElementTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSignIn(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/goodreads/core")
	defer cleanup()

	fake := testutil.NewFakeWebDriver(t)
	fake.SignInPage("https://www.goodreads.com/user/show/176878294-testy-mctestface")
	session := openFake(t, fake)

	auth := NewAuthenticator("https://www.goodreads.com", DefaultSelectors())
	id, err := auth.SignIn(context.Background(), session, Credentials{
		Email:    "reader@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, AccountId("176878294"), id)

	require.Equal(t, []string{"https://www.goodreads.com/user/sign_in"}, fake.Navigations())
	require.Equal(t, "reader@example.com", fake.Typed("#ap_email"))
	require.Equal(t, "hunter2", fake.Typed("#ap_password"))
	require.Equal(t, []string{
		".gr-button.gr-button--dark.gr-button--auth.authPortalConnectButton.authPortalSignInButton",
		"#signInSubmit",
	}, fake.Clicked())
}

func TestSignInFailures(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/goodreads/core")
	defer cleanup()

	auth := NewAuthenticator("", DefaultSelectors())
	creds := Credentials{Email: "reader@example.com", Password: "wrong"}

	t.Run("no email sign in button", func(t *testing.T) {
		fake := testutil.NewFakeWebDriver(t)
		_, err := auth.SignIn(context.Background(), openFake(t, fake), creds)
		require.ErrorIs(t, err, ErrAuthentication)
		require.ErrorIs(t, err, ErrSignInNavigation)
		require.ErrorIs(t, err, browser.ErrElementNotFound)
	})

	t.Run("no password field", func(t *testing.T) {
		fake := testutil.NewFakeWebDriver(t)
		fake.AddElement(".gr-button.gr-button--dark.gr-button--auth.authPortalConnectButton.authPortalSignInButton", testutil.FakeElement{})
		fake.AddElement("#ap_email", testutil.FakeElement{})
		_, err := auth.SignIn(context.Background(), openFake(t, fake), creds)
		require.ErrorIs(t, err, ErrAuthentication)
		require.ErrorIs(t, err, ErrCredentialEntry)
	})

	t.Run("credentials rejected", func(t *testing.T) {
		fake := testutil.NewFakeWebDriver(t)
		fake.SignInPage("/user/show/1-reader")
		// the profile menu never appears
		fake.AddElement(
			".dropdown__trigger.dropdown__trigger--profileMenu.dropdown__trigger--personalNav",
			testutil.FakeElement{Hidden: 1 << 20},
		)
		_, err := auth.SignIn(context.Background(), openFake(t, fake), creds)
		require.ErrorIs(t, err, ErrAuthentication)
		require.ErrorIs(t, err, ErrIdentifierExtraction)
		require.NotErrorIs(t, err, ErrAccountIdParse)
	})

	t.Run("profile link without id", func(t *testing.T) {
		fake := testutil.NewFakeWebDriver(t)
		fake.SignInPage("/user/show/")
		_, err := auth.SignIn(context.Background(), openFake(t, fake), creds)
		require.ErrorIs(t, err, ErrAccountIdParse)
		require.ErrorIs(t, err, ErrIdentifierExtraction)
		require.NotErrorIs(t, err, ErrAuthentication)
	})

	t.Run("profile menu without link", func(t *testing.T) {
		fake := testutil.NewFakeWebDriver(t)
		fake.SignInPage("")
		fake.AddElement(
			".dropdown__trigger.dropdown__trigger--profileMenu.dropdown__trigger--personalNav",
			testutil.FakeElement{},
		)
		_, err := auth.SignIn(context.Background(), openFake(t, fake), creds)
		require.ErrorIs(t, err, ErrAccountIdParse)
	})
}
