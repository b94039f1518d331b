package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type SiteRequest struct {
	// RequestURI is the path plus the raw query.
	RequestURI string
	Cookies    []*http.Cookie
	At         time.Time
}

type sitePage struct {
	status      int
	contentType string
	body        []byte
}

// FakeSite serves fixed responses keyed by request uri and records every
// request it receives.
type FakeSite struct {
	Server *httptest.Server

	mutex    sync.Mutex
	pages    map[string]sitePage
	requests []SiteRequest
}

func NewFakeSite(t testing.TB) *FakeSite {
	s := &FakeSite{pages: map[string]sitePage{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *FakeSite) URL() *url.URL {
	u, _ := url.Parse(s.Server.URL)
	return u
}

// HTML registers an html page at `uri` (path with an optional query).
func (s *FakeSite) HTML(uri string, body string) {
	s.Handle(uri, http.StatusOK, "text/html; charset=utf-8", []byte(body))
}

func (s *FakeSite) Handle(uri string, status int, contentType string, body []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pages[uri] = sitePage{status: status, contentType: contentType, body: body}
}

func (s *FakeSite) Requests() []SiteRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]SiteRequest(nil), s.requests...)
}

func (s *FakeSite) serve(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	s.requests = append(s.requests, SiteRequest{
		RequestURI: r.URL.RequestURI(),
		Cookies:    r.Cookies(),
		At:         time.Now(),
	})
	page, ok := s.pages[r.URL.RequestURI()]
	if !ok {
		page, ok = s.pages[r.URL.Path]
	}
	s.mutex.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("content-type", page.contentType)
	w.WriteHeader(page.status)
	w.Write(page.body)
}
