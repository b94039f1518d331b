package session

import (
	"context"
	"fmt"
	"godric-backend/lib/browser"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/testutil"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type goodreadsFixture struct {
	driver *testutil.FakeWebDriver
	site   *testutil.FakeSite
	h      *harness
}

func noDelay(context.Context) error { return nil }

func newGoodreadsFixture(t *testing.T, profileHref string) goodreadsFixture {
	f := goodreadsFixture{
		driver: testutil.NewFakeWebDriver(t),
		site:   testutil.NewFakeSite(t),
		h: &harness{
			exited: make(chan error, 1),
		},
	}
	f.driver.SignInPage(profileHref)
	f.driver.SetCookies(testutil.FakeCookie{Name: "session-id", Value: "abc"})

	f.h.o = New(Goodreads(GoodreadsOptions{
		BaseUrl:     f.site.Server.URL,
		Selectors:   core.DefaultSelectors(),
		HttpTimeout: 5 * time.Second,
		SettleDelay: time.Millisecond,
		PageDelay:   noDelay,
	}))
	ctx, cancel := context.WithCancel(context.Background())
	f.h.cancel = cancel
	go func() {
		f.h.exited <- f.h.o.Run(ctx)
	}()
	t.Cleanup(cancel)
	return f
}

func (f goodreadsFixture) launch(address string) Launch {
	return Launch{
		Config: browser.DriverConfig{
			Browser:        browser.Firefox,
			Address:        address,
			Remote:         true,
			Headless:       true,
			ConnectTimeout: time.Second,
			ElementTimeout: 200 * time.Millisecond,
		},
		Credentials: core.Credentials{Email: "reader@example.com", Password: "hunter2"},
	}
}

func (f goodreadsFixture) readingList() {
	page := func(n int) string {
		return fmt.Sprintf("/review/list/42?shelf=to-read&page=%d", n)
	}
	row := func(n int) testutil.ShelfRow {
		return testutil.ShelfRow{
			Position: fmt.Sprint(n),
			Title:    fmt.Sprintf("Book %d", n),
			Href:     fmt.Sprintf("/book/show/%d", n),
		}
	}
	f.site.HTML(page(1), testutil.ShelfPage([]testutil.ShelfRow{row(3), row(1), row(2)}, "1", "2", "next »"))
	f.site.HTML(page(2), testutil.ShelfPage([]testutil.ShelfRow{row(4)}, "2", "1", "next »"))
	for i := 1; i <= 4; i++ {
		f.site.HTML(fmt.Sprintf("/book/show/%d", i), testutil.BookPage(testutil.BookFixture{
			Title:    fmt.Sprintf("Book %d", i),
			Author:   fmt.Sprintf("Author %d", i),
			Summary:  "A summary.",
			CoverSrc: fmt.Sprintf("/covers/%d.png", i),
		}))
		f.site.Handle(fmt.Sprintf("/covers/%d.png", i), http.StatusOK, "image/png", testutil.PNG)
	}
}

func TestGoodreadsSession(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	f := newGoodreadsFixture(t, "/user/show/42-reader")
	f.readingList()
	h := f.h

	h.send(t, f.launch(f.driver.Address()))
	expect[Connected](t, h)
	require.Equal(t, core.AccountId("42"), expect[LoginSucceeded](t, h).AccountId)
	require.Equal(t, "reader@example.com", f.driver.Typed("#ap_email"))

	ready := expect[CatalogReady](t, h)
	require.Empty(t, ready.Skipped)
	require.Len(t, ready.Entries, 4)
	for i, entry := range ready.Entries {
		require.Equal(t, uint(i+1), entry.Position)
		require.Equal(t, fmt.Sprintf("Book %d", i+1), entry.Title)
	}

	for i := 0; i < 4; i++ {
		arrived := expect[DetailArrived](t, h)
		require.NoError(t, arrived.Err)
		require.Equal(t, fmt.Sprintf("Author %d", arrived.Index+1), arrived.Record.Author)
		require.Equal(t, testutil.PNG, arrived.Record.Cover)
	}

	snapshot := h.inspect(t)
	require.Equal(t, Ready, snapshot.State)
	for _, slot := range snapshot.Slots {
		require.Equal(t, Success, slot.Status)
	}

	// the http side continues the browser's session
	for _, req := range f.site.Requests() {
		require.NotEmpty(t, req.Cookies, req.RequestURI)
		require.Equal(t, "session-id", req.Cookies[0].Name)
	}

	h.send(t, SelectItem{Index: 2})
	require.Equal(t, 2, expect[SelectionChanged](t, h).Index)
	h.send(t, SelectItem{Index: 9})
	require.Equal(t, 2, h.inspect(t).Selected)
	h.quiet(t)

	h.send(t, Logout{})
	expect[LoggedOut](t, h)
	created, deleted := f.driver.Sessions()
	require.Equal(t, 1, created)
	require.Equal(t, 1, deleted)
	require.Equal(t, Uninitialized, h.inspect(t).State)
}

func TestGoodreadsUnreachableDriver(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	f := newGoodreadsFixture(t, "/user/show/42-reader")
	h := f.h

	h.send(t, f.launch(address))
	expectError(t, h, BrowserConnection)
	require.Equal(t, Uninitialized, h.inspect(t).State)
}

func TestGoodreadsMissingAccountId(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	f := newGoodreadsFixture(t, "/user/show/")
	h := f.h

	h.send(t, f.launch(f.driver.Address()))
	expect[Connected](t, h)
	ev := expectError(t, h, AccountIdParse)
	require.ErrorIs(t, ev.Err, core.ErrAccountIdParse)
	require.NotContains(t, ev.Message, "hunter2")

	require.Equal(t, Uninitialized, h.inspect(t).State)
	created, deleted := f.driver.Sessions()
	require.Equal(t, 1, created)
	require.Equal(t, 1, deleted)
	require.Empty(t, f.site.Requests())
}
