package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// FakeElement is an element served by FakeWebDriver. It only matches after
// `Hidden` lookups have failed, which simulates a page that is still loading.
type FakeElement struct {
	Attributes map[string]string
	Hidden     int
}

type FakeCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// FakeWebDriver is a W3C WebDriver remote end that serves a scripted set of
// elements keyed by selector value.
type FakeWebDriver struct {
	Server *httptest.Server

	mutex        sync.Mutex
	notReady     bool
	failSession  bool
	elements     map[string]*FakeElement
	elementIds   map[string]string
	cookies      []FakeCookie
	sessionsMade int
	sessionsDone int
	capabilities map[string]any
	navigations  []string
	clicked      []string
	typed        map[string]string
	strategies   map[string]string
}

func NewFakeWebDriver(t testing.TB) *FakeWebDriver {
	f := &FakeWebDriver{
		elements:   map[string]*FakeElement{},
		elementIds: map[string]string{},
		typed:      map[string]string{},
		strategies: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", f.status)
	mux.HandleFunc("POST /session", f.newSession)
	mux.HandleFunc("DELETE /session/{id}", f.deleteSession)
	mux.HandleFunc("POST /session/{id}/url", f.navigate)
	mux.HandleFunc("POST /session/{id}/element", f.findElement)
	mux.HandleFunc("POST /session/{id}/element/{el}/click", f.click)
	mux.HandleFunc("POST /session/{id}/element/{el}/value", f.sendKeys)
	mux.HandleFunc("GET /session/{id}/element/{el}/attribute/{name}", f.attribute)
	mux.HandleFunc("GET /session/{id}/cookie", f.getCookies)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// Address is the host:port the fake listens on.
func (f *FakeWebDriver) Address() string {
	u, _ := url.Parse(f.Server.URL)
	return u.Host
}

func (f *FakeWebDriver) Port() string {
	_, port, _ := net.SplitHostPort(f.Address())
	return port
}

func (f *FakeWebDriver) SetReady(ready bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.notReady = !ready
}

func (f *FakeWebDriver) FailSessions() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failSession = true
}

func (f *FakeWebDriver) AddElement(selector string, el FakeElement) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	copied := el
	f.elements[selector] = &copied
}

func (f *FakeWebDriver) SetCookies(cookies ...FakeCookie) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.cookies = cookies
}

func (f *FakeWebDriver) Sessions() (created, deleted int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.sessionsMade, f.sessionsDone
}

func (f *FakeWebDriver) Capabilities() map[string]any {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.capabilities
}

func (f *FakeWebDriver) Navigations() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.navigations...)
}

func (f *FakeWebDriver) Clicked() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.clicked...)
}

// Typed returns the text that was sent to the element matching `selector`.
func (f *FakeWebDriver) Typed(selector string) string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.typed[selector]
}

// Strategy returns the locator strategy last used to look up `selector`.
func (f *FakeWebDriver) Strategy(selector string) string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.strategies[selector]
}

func writeValue(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"value": value})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeValue(w, status, map[string]any{
		"error":      code,
		"message":    message,
		"stacktrace": "",
	})
}

func (f *FakeWebDriver) checkSession(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("id") != "fake-session" || f.sessionsMade == f.sessionsDone {
		writeError(w, http.StatusNotFound, "invalid session id", "no such session")
		return false
	}
	return true
}

func (f *FakeWebDriver) status(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	writeValue(w, http.StatusOK, map[string]any{
		"ready":   !f.notReady,
		"message": "fake remote end",
	})
}

func (f *FakeWebDriver) newSession(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.failSession {
		writeError(w, http.StatusInternalServerError, "session not created", "fake refuses sessions")
		return
	}

	var body struct {
		Capabilities struct {
			AlwaysMatch map[string]any `json:"alwaysMatch"`
		} `json:"capabilities"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	f.capabilities = body.Capabilities.AlwaysMatch
	f.sessionsMade++
	writeValue(w, http.StatusOK, map[string]any{
		"sessionId":    "fake-session",
		"capabilities": body.Capabilities.AlwaysMatch,
	})
}

func (f *FakeWebDriver) deleteSession(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.checkSession(w, r) {
		return
	}
	f.sessionsDone++
	writeValue(w, http.StatusOK, nil)
}

func (f *FakeWebDriver) navigate(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.checkSession(w, r) {
		return
	}
	var body struct {
		Url string `json:"url"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	f.navigations = append(f.navigations, body.Url)
	writeValue(w, http.StatusOK, nil)
}

func (f *FakeWebDriver) findElement(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.checkSession(w, r) {
		return
	}
	var body struct {
		Using string `json:"using"`
		Value string `json:"value"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}

	f.strategies[body.Value] = body.Using
	el, ok := f.elements[body.Value]
	if !ok {
		writeError(w, http.StatusNotFound, "no such element", fmt.Sprintf("unable to locate %q", body.Value))
		return
	}
	if el.Hidden > 0 {
		el.Hidden--
		writeError(w, http.StatusNotFound, "no such element", fmt.Sprintf("%q is not on the page yet", body.Value))
		return
	}

	id := fmt.Sprintf("el-%d", len(f.elementIds)+1)
	for existing, selector := range f.elementIds {
		if selector == body.Value {
			id = existing
		}
	}
	f.elementIds[id] = body.Value
	writeValue(w, http.StatusOK, map[string]string{
		"element-6066-11e4-a52e-4f735466cecf": id,
	})
}

func (f *FakeWebDriver) lookup(w http.ResponseWriter, r *http.Request) (string, *FakeElement, bool) {
	if !f.checkSession(w, r) {
		return "", nil, false
	}
	selector, ok := f.elementIds[r.PathValue("el")]
	if !ok {
		writeError(w, http.StatusNotFound, "no such element", "unknown element reference")
		return "", nil, false
	}
	return selector, f.elements[selector], true
}

func (f *FakeWebDriver) click(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	selector, _, ok := f.lookup(w, r)
	if !ok {
		return
	}
	f.clicked = append(f.clicked, selector)
	writeValue(w, http.StatusOK, nil)
}

func (f *FakeWebDriver) sendKeys(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	selector, _, ok := f.lookup(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}
	f.typed[selector] += body.Text
	writeValue(w, http.StatusOK, nil)
}

func (f *FakeWebDriver) attribute(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	_, el, ok := f.lookup(w, r)
	if !ok {
		return
	}
	value, present := el.Attributes[r.PathValue("name")]
	if !present {
		writeValue(w, http.StatusOK, nil)
		return
	}
	writeValue(w, http.StatusOK, value)
}

func (f *FakeWebDriver) getCookies(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.checkSession(w, r) {
		return
	}
	cookies := f.cookies
	if cookies == nil {
		cookies = []FakeCookie{}
	}
	writeValue(w, http.StatusOK, cookies)
}

// SignInPage registers the elements of a successful sign-in flow using the
// default selectors, the profile link points at `profileHref`.
func (f *FakeWebDriver) SignInPage(profileHref string) {
	f.AddElement(".gr-button.gr-button--dark.gr-button--auth.authPortalConnectButton.authPortalSignInButton", FakeElement{})
	f.AddElement("#ap_email", FakeElement{})
	f.AddElement("#ap_password", FakeElement{})
	f.AddElement("#signInSubmit", FakeElement{})
	f.AddElement(
		".dropdown__trigger.dropdown__trigger--profileMenu.dropdown__trigger--personalNav",
		FakeElement{Attributes: map[string]string{"href": profileHref}},
	)
}

