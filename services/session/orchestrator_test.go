package session

import (
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/browser"
	"godric-backend/lib/scrapers/goodreads/book"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/scrapers/goodreads/shelf"
	"godric-backend/lib/telemetry"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	closed int32
}

func (b *fakeBrowser) Navigate(context.Context, string) error { return nil }
func (b *fakeBrowser) Find(context.Context, browser.Selector) (browser.Element, error) {
	return browser.Element{}, nil
}
func (b *fakeBrowser) Click(context.Context, browser.Element) error        { return nil }
func (b *fakeBrowser) Type(context.Context, browser.Element, string) error { return nil }
func (b *fakeBrowser) Attribute(context.Context, browser.Element, string) (string, bool, error) {
	return "", false, nil
}
func (b *fakeBrowser) Cookies(context.Context) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "session-id", Value: "abc"}}, nil
}
func (b *fakeBrowser) Close() error {
	atomic.AddInt32(&b.closed, 1)
	return nil
}
func (b *fakeBrowser) Closed() int {
	return int(atomic.LoadInt32(&b.closed))
}

type fakeOpener struct {
	failures int32
	opened   int32
	browsers []*fakeBrowser
}

func (o *fakeOpener) Open(ctx context.Context, config browser.DriverConfig) (Browser, error) {
	if atomic.AddInt32(&o.failures, -1) >= 0 {
		return nil, fmt.Errorf("%w: connection refused", browser.ErrEndpointUnreachable)
	}
	atomic.AddInt32(&o.opened, 1)
	b := &fakeBrowser{}
	o.browsers = append(o.browsers, b)
	return b, nil
}

type fakeAuth struct {
	id    core.AccountId
	err   error
	creds core.Credentials
}

func (a *fakeAuth) SignIn(ctx context.Context, session core.BrowserSession, creds core.Credentials) (core.AccountId, error) {
	a.creds = creds
	return a.id, a.err
}

type fakeScraper struct {
	catalog shelf.Catalog
	err     error
}

func (s fakeScraper) ScrapeAll(context.Context, core.AccountId) (shelf.Catalog, error) {
	return s.catalog, s.err
}

type fakePipeline struct {
	results []book.Result
	// block keeps the pipeline running after the results until it is
	// stopped
	block   bool
	stopped chan struct{}
}

func (p *fakePipeline) Start(ctx context.Context, entries []shelf.Entry) <-chan book.Result {
	out := make(chan book.Result)
	go func() {
		defer close(p.stopped)
		defer close(out)
		for _, r := range p.results {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
		if p.block {
			<-ctx.Done()
		}
	}()
	return out
}

func testEntries(n int) []shelf.Entry {
	entries := make([]shelf.Entry, n)
	for i := range entries {
		link, _ := url.Parse(fmt.Sprintf("https://www.goodreads.com/book/show/%d", i+1))
		entries[i] = shelf.Entry{Position: uint(i + 1), Title: fmt.Sprintf("Book %d", i+1), Link: link}
	}
	return entries
}

func successResults(n int) []book.Result {
	results := make([]book.Result, n)
	for i := range results {
		results[i] = book.Result{Index: i, Record: book.Record{Title: fmt.Sprintf("Book %d", i+1)}}
	}
	return results
}

type harness struct {
	o        *Orchestrator
	opener   *fakeOpener
	auth     *fakeAuth
	scraper  *fakeScraper
	pipeline *fakePipeline
	cancel   context.CancelFunc
	exited   chan error
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		opener:   &fakeOpener{},
		auth:     &fakeAuth{id: "42"},
		scraper:  &fakeScraper{catalog: shelf.Catalog{Entries: testEntries(3)}},
		pipeline: &fakePipeline{results: successResults(3), stopped: make(chan struct{})},
		exited:   make(chan error, 1),
	}
	h.o = New(Dependencies{
		Opener:        h.opener,
		Authenticator: h.auth,
		Connect: func(context.Context, []*http.Cookie) (Scraper, Pipeline, error) {
			return h.scraper, h.pipeline, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.exited <- h.o.Run(ctx)
	}()
	t.Cleanup(cancel)
	return h
}

func (h *harness) send(t *testing.T, cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.o.Send(ctx, cmd))
}

func (h *harness) inspect(t *testing.T) Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot, err := h.o.Inspect(ctx)
	require.NoError(t, err)
	return snapshot
}

func (h *harness) next(t *testing.T) Event {
	select {
	case ev, ok := <-h.o.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

// quiet checks that no event is waiting, call it after an inspect so every
// earlier command has been handled.
func (h *harness) quiet(t *testing.T) {
	select {
	case ev := <-h.o.Events():
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}

func expect[T Event](t *testing.T, h *harness) T {
	ev := h.next(t)
	out, ok := ev.(T)
	require.True(t, ok, "expected %T, got %#v", out, ev)
	return out
}

func expectError(t *testing.T, h *harness, kind ErrorKind) Error {
	ev := expect[Error](t, h)
	require.Equal(t, kind, ev.Kind, ev.Message)
	return ev
}

var testLaunch = Launch{Credentials: core.Credentials{Email: "reader@example.com", Password: "hunter2"}}

func (h *harness) launchToReady(t *testing.T) CatalogReady {
	h.send(t, testLaunch)
	expect[Connected](t, h)
	require.Equal(t, core.AccountId("42"), expect[LoginSucceeded](t, h).AccountId)
	return expect[CatalogReady](t, h)
}

func TestLaunchToReady(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	require.Equal(t, Uninitialized, h.inspect(t).State)

	ready := h.launchToReady(t)
	require.Len(t, ready.Entries, 3)
	require.Equal(t, testLaunch.Credentials, h.auth.creds)

	indices := map[int]bool{}
	for i := 0; i < 3; i++ {
		arrived := expect[DetailArrived](t, h)
		require.NoError(t, arrived.Err)
		require.False(t, indices[arrived.Index])
		indices[arrived.Index] = true
	}

	snapshot := h.inspect(t)
	require.Equal(t, Ready, snapshot.State)
	require.Equal(t, core.AccountId("42"), snapshot.AccountId)
	require.Equal(t, -1, snapshot.Selected)
	require.Len(t, snapshot.Slots, 3)
	for i, slot := range snapshot.Slots {
		require.Equal(t, Success, slot.Status)
		require.Equal(t, fmt.Sprintf("Book %d", i+1), slot.Record.Title)
	}
}

func TestPendingSlotsStartAsPlaceholders(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	h.pipeline.results = nil
	h.pipeline.block = true
	h.launchToReady(t)

	snapshot := h.inspect(t)
	for _, slot := range snapshot.Slots {
		require.Equal(t, Pending, slot.Status)
		require.Equal(t, book.PlaceholderTitle, slot.Record.Title)
	}
}

func TestBrowserConnectionFailure(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	h.opener.failures = 1

	h.send(t, testLaunch)
	ev := expectError(t, h, BrowserConnection)
	require.ErrorIs(t, ev.Err, browser.ErrEndpointUnreachable)
	require.Equal(t, Uninitialized, h.inspect(t).State)

	// retrying works once the endpoint is reachable
	h.launchToReady(t)
}

func TestSignInFailureReleasesBrowser(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	testCases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{
			name: "credentials rejected",
			err:  fmt.Errorf("%w: %w", core.ErrAuthentication, browser.ErrElementNotFound),
			kind: Authentication,
		},
		{
			name: "no account id",
			err:  fmt.Errorf("%w: %w", core.ErrIdentifierExtraction, core.ErrAccountIdParse),
			kind: AccountIdParse,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t)
			h.auth.err = test.err

			h.send(t, testLaunch)
			expect[Connected](t, h)
			expectError(t, h, test.kind)

			snapshot := h.inspect(t)
			require.Equal(t, Uninitialized, snapshot.State)
			require.Len(t, h.opener.browsers, 1)
			require.Equal(t, 1, h.opener.browsers[0].Closed())
		})
	}
}

func TestCatalogFailure(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	h.scraper.err = fmt.Errorf("%w: %w", shelf.ErrCatalog, shelf.ErrPageCountParse)

	h.send(t, testLaunch)
	expect[Connected](t, h)
	expect[LoginSucceeded](t, h)
	expectError(t, h, Catalog)

	snapshot := h.inspect(t)
	require.Equal(t, Uninitialized, snapshot.State)
	require.Empty(t, snapshot.Entries)
	require.Equal(t, 1, h.opener.browsers[0].Closed())
}

func TestInvalidState(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)

	h.send(t, SelectItem{Index: 0})
	ev := expectError(t, h, InvalidState)
	var invalid InvalidStateError
	require.True(t, errors.As(ev.Err, &invalid))
	require.Equal(t, Uninitialized, invalid.State)

	h.send(t, Logout{})
	expectError(t, h, InvalidState)

	h.launchToReady(t)
	for i := 0; i < 3; i++ {
		expect[DetailArrived](t, h)
	}

	h.send(t, testLaunch)
	ev = expectError(t, h, InvalidState)
	require.True(t, errors.As(ev.Err, &invalid))
	require.Equal(t, Ready, invalid.State)
	require.Equal(t, Ready, h.inspect(t).State)
	require.Equal(t, int32(1), h.opener.opened)
}

func TestSelectAndLogout(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	h.pipeline.block = true
	h.launchToReady(t)
	for i := 0; i < 3; i++ {
		expect[DetailArrived](t, h)
	}

	h.send(t, SelectItem{Index: 1})
	require.Equal(t, 1, expect[SelectionChanged](t, h).Index)

	h.send(t, SelectItem{Index: 3})
	h.send(t, SelectItem{Index: -1})
	require.Equal(t, 1, h.inspect(t).Selected)
	h.quiet(t)

	h.send(t, Logout{})
	expect[LoggedOut](t, h)
	select {
	case <-h.pipeline.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline was not stopped on logout")
	}

	snapshot := h.inspect(t)
	require.Equal(t, Uninitialized, snapshot.State)
	require.Empty(t, snapshot.Slots)
	require.Equal(t, 1, h.opener.browsers[0].Closed())

	// a new session can be launched after logging out
	h.pipeline = &fakePipeline{results: successResults(3), stopped: make(chan struct{})}
	h.launchToReady(t)
	require.Equal(t, int32(2), h.opener.opened)
}

func TestItemFailuresAreData(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	h.pipeline.results = []book.Result{
		{Index: 0, Record: book.Record{Title: "Book 1"}},
		{Index: 1, Err: fmt.Errorf("%w: 404", book.ErrDetailFetch)},
		{Index: 2, Err: fmt.Errorf("%w: no author", book.ErrDetailParse)},
	}
	h.launchToReady(t)

	for i := 0; i < 3; i++ {
		arrived := expect[DetailArrived](t, h)
		require.Equal(t, i, arrived.Index)
	}

	snapshot := h.inspect(t)
	require.Equal(t, Ready, snapshot.State)
	require.Equal(t, Success, snapshot.Slots[0].Status)
	require.Equal(t, Failed, snapshot.Slots[1].Status)
	require.Equal(t, DetailFetch, Classify(snapshot.Slots[1].Err))
	require.Equal(t, Failed, snapshot.Slots[2].Status)
	require.Equal(t, DetailParse, Classify(snapshot.Slots[2].Err))
	h.quiet(t)
}

func TestRunReleasesBrowserOnExit(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/session")
	defer cleanup()

	h := newHarness(t)
	h.pipeline.results = nil
	h.pipeline.block = true
	h.launchToReady(t)

	h.cancel()
	select {
	case err := <-h.exited:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	require.Equal(t, 1, h.opener.browsers[0].Closed())

	for range h.o.Events() {
	}
	err := h.o.Send(context.Background(), Logout{})
	require.ErrorIs(t, err, ErrStopped)
}

func TestClassify(t *testing.T) {
	require.Equal(t, BrowserConnection, Classify(fmt.Errorf("x: %w", browser.ErrDriverSpawn)))
	require.Equal(t, CoverFetch, Classify(fmt.Errorf("x: %w", book.ErrCoverFetch)))
	require.Equal(t, InvalidState, Classify(InvalidStateError{State: Ready}))
	require.Equal(t, Authentication, Classify(core.ErrCredentialEntry))
	require.Equal(t, Authentication, Classify(fmt.Errorf("x: %w", core.ErrAuthentication)))
	require.Equal(t, Internal, Classify(context.Canceled))
	require.Equal(t, Internal, Classify(errors.New("something else")))
	require.Equal(t, "internal", Internal.String())
}
