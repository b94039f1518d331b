package session

import (
	"errors"
	"fmt"
	"godric-backend/lib/browser"
	"godric-backend/lib/scrapers/goodreads/book"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/scrapers/goodreads/shelf"
)

type State int

const (
	Uninitialized State = iota
	Authenticating
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Command is an input to the orchestrator.
type Command interface {
	command()
}

// Launch opens the browser and signs in with the given credentials.
type Launch struct {
	Config      browser.DriverConfig
	Credentials core.Credentials
}

// SelectItem selects a catalog entry, out of range indices are ignored.
type SelectItem struct {
	Index int
}

type Logout struct{}

// Inspect asks for a copy of the orchestrator's state, it is answered in
// every state. Reply must have room for the snapshot.
type Inspect struct {
	Reply chan<- Snapshot
}

type authenticate struct{}

type detailArrived struct {
	generation int
	result     book.Result
}

func (Launch) command()        {}
func (SelectItem) command()    {}
func (Logout) command()        {}
func (Inspect) command()       {}
func (authenticate) command()  {}
func (detailArrived) command() {}

// Event is an output of the orchestrator.
type Event interface {
	event()
}

type Connected struct{}

type LoginSucceeded struct {
	AccountId core.AccountId
}

type CatalogReady struct {
	Entries []shelf.Entry
	Skipped []shelf.RowError
}

type DetailArrived struct {
	Index  int
	Record book.Record
	Err    error
}

type SelectionChanged struct {
	Index int
}

type LoggedOut struct{}

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (Connected) event()        {}
func (LoginSucceeded) event()   {}
func (CatalogReady) event()     {}
func (DetailArrived) event()    {}
func (SelectionChanged) event() {}
func (LoggedOut) event()        {}
func (Error) event()            {}

type ErrorKind int

const (
	BrowserConnection ErrorKind = iota
	Authentication
	AccountIdParse
	Catalog
	DetailFetch
	DetailParse
	CoverFetch
	InvalidState
	// Internal covers errors that come from no known stage, such as a
	// cancelled context.
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case BrowserConnection:
		return "browser_connection"
	case Authentication:
		return "authentication"
	case AccountIdParse:
		return "account_id_parse"
	case Catalog:
		return "catalog"
	case DetailFetch:
		return "detail_fetch"
	case DetailParse:
		return "detail_parse"
	case CoverFetch:
		return "cover_fetch"
	case InvalidState:
		return "invalid_state"
	case Internal:
		return "internal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// InvalidStateError is reported when a command arrives in a state that
// cannot handle it.
type InvalidStateError struct {
	State   State
	Message string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("invalid command in state %s: %s", e.State, e.Message)
}

// Classify maps an error from any stage of a session to its kind.
func Classify(err error) ErrorKind {
	var invalid InvalidStateError
	switch {
	case errors.As(err, &invalid):
		return InvalidState
	case errors.Is(err, browser.ErrDriverSpawn), errors.Is(err, browser.ErrEndpointUnreachable):
		return BrowserConnection
	case errors.Is(err, core.ErrAccountIdParse):
		return AccountIdParse
	case errors.Is(err, core.ErrAuthentication),
		errors.Is(err, core.ErrSignInNavigation),
		errors.Is(err, core.ErrCredentialEntry),
		errors.Is(err, core.ErrIdentifierExtraction):
		return Authentication
	case errors.Is(err, shelf.ErrCatalog):
		return Catalog
	case errors.Is(err, book.ErrDetailParse):
		return DetailParse
	case errors.Is(err, book.ErrCoverFetch):
		return CoverFetch
	case errors.Is(err, book.ErrDetailFetch):
		return DetailFetch
	}
	return Internal
}

type SlotStatus int

const (
	Pending SlotStatus = iota
	Success
	Failed
)

func (s SlotStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("SlotStatus(%d)", int(s))
}

// Slot holds the fetch outcome of one catalog entry.
type Slot struct {
	Status SlotStatus
	Record book.Record
	Err    error
}

type Snapshot struct {
	SessionId string
	State     State
	AccountId core.AccountId
	Entries   []shelf.Entry
	Slots     []Slot
	// Selected is -1 when nothing is selected.
	Selected int
}
