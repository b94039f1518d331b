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
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("godric.services.session")

var ErrStopped = errors.New("orchestrator is not running")

// Browser is an open browser session.
type Browser interface {
	core.BrowserSession
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context, config browser.DriverConfig) (Browser, error)
}

type Authenticator interface {
	SignIn(ctx context.Context, session core.BrowserSession, creds core.Credentials) (core.AccountId, error)
}

type Scraper interface {
	ScrapeAll(ctx context.Context, accountId core.AccountId) (shelf.Catalog, error)
}

type Pipeline interface {
	Start(ctx context.Context, entries []shelf.Entry) <-chan book.Result
}

type Dependencies struct {
	Opener        Opener
	Authenticator Authenticator
	// Connect builds the http backed components, they continue the browser's
	// session with its cookies.
	Connect func(ctx context.Context, cookies []*http.Cookie) (Scraper, Pipeline, error)
}

type ready struct {
	accountId core.AccountId
	entries   []shelf.Entry
	slots     []Slot
	selected  int
}

// Orchestrator sequences a reading list session. All of its state is owned
// by the goroutine running Run, other goroutines talk to it with Send and
// Events.
type Orchestrator struct {
	id     string
	deps   Dependencies
	inbox  chan Command
	events chan Event
	done   chan struct{}

	state       State
	credentials core.Credentials
	browser     Browser
	ready       *ready

	stopPipeline context.CancelFunc
	generation   int
}

func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		id:     uuid.NewString(),
		deps:   deps,
		inbox:  make(chan Command, 16),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

func (o *Orchestrator) Id() string {
	return o.id
}

// Events is closed once Run returns.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

func (o *Orchestrator) Send(ctx context.Context, cmd Command) error {
	select {
	case o.inbox <- cmd:
		return nil
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspect returns a copy of the orchestrator's state.
func (o *Orchestrator) Inspect(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	err := o.Send(ctx, Inspect{Reply: reply})
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-o.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes commands one at a time until ctx is done. The browser is
// released on every way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.events)
	defer close(o.done)
	defer o.release()

	slog.InfoContext(ctx, "session started", "session_id", o.id)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "session stopped", "session_id", o.id)
			return ctx.Err()
		case cmd := <-o.inbox:
			o.handle(ctx, cmd)
		}
	}
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	select {
	case o.events <- ev:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) emitError(ctx context.Context, err error) {
	kind := Classify(err)
	slog.WarnContext(ctx, "session error", "session_id", o.id, "kind", kind.String(), "err", err)
	o.emit(ctx, Error{Kind: kind, Message: err.Error(), Err: err})
}

func (o *Orchestrator) invalid(ctx context.Context, msg string) {
	o.emitError(ctx, InvalidStateError{State: o.state, Message: msg})
}

func (o *Orchestrator) handle(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case Inspect:
		select {
		case cmd.Reply <- o.snapshot():
		default:
			slog.WarnContext(ctx, "inspect reply channel is not ready, dropping snapshot")
		}
	case Launch:
		if o.state != Uninitialized {
			o.invalid(ctx, "already launched")
			return
		}
		o.launch(ctx, cmd)
	case authenticate:
		if o.state != Authenticating {
			o.invalid(ctx, "not authenticating")
			return
		}
		o.authenticate(ctx)
	case detailArrived:
		o.detailArrived(ctx, cmd)
	case SelectItem:
		if o.state != Ready {
			o.invalid(ctx, "nothing to select before the catalog is ready")
			return
		}
		if cmd.Index < 0 || cmd.Index >= len(o.ready.entries) {
			slog.DebugContext(ctx, "ignoring out of range selection", "index", cmd.Index)
			return
		}
		o.ready.selected = cmd.Index
		o.emit(ctx, SelectionChanged{Index: cmd.Index})
	case Logout:
		if o.state != Ready {
			o.invalid(ctx, "not signed in")
			return
		}
		o.release()
		o.state = Uninitialized
		slog.InfoContext(ctx, "logged out", "session_id", o.id)
		o.emit(ctx, LoggedOut{})
	default:
		o.invalid(ctx, fmt.Sprintf("unknown command %T", cmd))
	}
}

func (o *Orchestrator) launch(ctx context.Context, cmd Launch) {
	ctx, span := tracer.Start(ctx, "Launch")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", o.id))

	if o.browser == nil {
		b, err := o.deps.Opener.Open(ctx, cmd.Config)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to open browser")
			o.emitError(ctx, err)
			return
		}
		o.browser = b
	}

	o.state = Authenticating
	o.credentials = cmd.Credentials
	o.emit(ctx, Connected{})
	o.handle(ctx, authenticate{})
}

func (o *Orchestrator) authenticate(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	creds := o.credentials
	o.credentials = core.Credentials{}

	fail := func(err error, msg string) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		o.release()
		o.state = Uninitialized
		o.emitError(ctx, err)
	}

	accountId, err := o.deps.Authenticator.SignIn(ctx, o.browser, creds)
	if err != nil {
		fail(err, "failed to sign in")
		return
	}
	o.emit(ctx, LoginSucceeded{AccountId: accountId})

	cookies, err := o.browser.Cookies(ctx)
	if err != nil {
		fail(fmt.Errorf("%w: failed to export cookies: %w", core.ErrAuthentication, err), "failed to export cookies")
		return
	}
	scraper, pipeline, err := o.deps.Connect(ctx, cookies)
	if err != nil {
		fail(fmt.Errorf("%w: %w", shelf.ErrCatalog, err), "failed to create http client")
		return
	}
	catalog, err := scraper.ScrapeAll(ctx, accountId)
	if err != nil {
		fail(err, "failed to scrape catalog")
		return
	}

	slots := make([]Slot, len(catalog.Entries))
	for i, entry := range catalog.Entries {
		slots[i] = Slot{Status: Pending, Record: book.Placeholder(entry)}
	}
	o.ready = &ready{
		accountId: accountId,
		entries:   catalog.Entries,
		slots:     slots,
		selected:  -1,
	}
	o.state = Ready
	span.SetAttributes(
		attribute.Int("entries", len(catalog.Entries)),
		attribute.Int("skipped", len(catalog.Skipped)),
	)
	o.emit(ctx, CatalogReady{Entries: catalog.Entries, Skipped: catalog.Skipped})

	o.startPipeline(ctx, pipeline, catalog.Entries)
}

// startPipeline forwards pipeline results into the inbox until the pipeline
// finishes or is stopped.
func (o *Orchestrator) startPipeline(ctx context.Context, pipeline Pipeline, entries []shelf.Entry) {
	o.generation++
	generation := o.generation

	pipelineCtx, cancel := context.WithCancel(ctx)
	o.stopPipeline = cancel

	results := pipeline.Start(pipelineCtx, entries)
	go func() {
		for result := range results {
			select {
			case o.inbox <- detailArrived{generation: generation, result: result}:
			case <-pipelineCtx.Done():
				return
			}
		}
	}()
}

func (o *Orchestrator) detailArrived(ctx context.Context, cmd detailArrived) {
	if cmd.generation != o.generation || o.state != Ready {
		slog.DebugContext(ctx, "dropping result of a stopped pipeline", "index", cmd.result.Index)
		return
	}

	index := cmd.result.Index
	if index < 0 || index >= len(o.ready.slots) {
		o.invalid(ctx, fmt.Sprintf("detail for unknown index %d", index))
		return
	}
	slot := &o.ready.slots[index]
	if slot.Status != Pending {
		o.invalid(ctx, fmt.Sprintf("detail for index %d arrived twice", index))
		return
	}

	if cmd.result.Err != nil {
		slot.Status = Failed
		slot.Err = cmd.result.Err
	} else {
		slot.Status = Success
		slot.Record = cmd.result.Record
	}
	o.emit(ctx, DetailArrived{
		Index:  index,
		Record: cmd.result.Record,
		Err:    cmd.result.Err,
	})
}

// release stops the pipeline and closes the browser, it is safe to call in
// any state.
func (o *Orchestrator) release() {
	if o.stopPipeline != nil {
		o.stopPipeline()
		o.stopPipeline = nil
	}
	o.ready = nil
	o.credentials = core.Credentials{}
	if o.browser != nil {
		err := o.browser.Close()
		if err != nil {
			slog.Warn("failed to close browser", "session_id", o.id, "err", err)
		}
		o.browser = nil
	}
}

func (o *Orchestrator) snapshot() Snapshot {
	snapshot := Snapshot{
		SessionId: o.id,
		State:     o.state,
		Selected:  -1,
	}
	if o.ready != nil {
		snapshot.AccountId = o.ready.accountId
		snapshot.Entries = append([]shelf.Entry(nil), o.ready.entries...)
		snapshot.Slots = append([]Slot(nil), o.ready.slots...)
		snapshot.Selected = o.ready.selected
	}
	return snapshot
}
