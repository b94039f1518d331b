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

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	devtoolsTarget  = "fake-target"
	devtoolsSession = "fake-session"
)

type devtoolsNode struct {
	selector   string
	attributes map[string]string
}

type devtoolsMessage struct {
	Id        int64           `json:"id,omitempty"`
	SessionId string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    any             `json:"result,omitempty"`
}

// FakeDevTools is a Chrome DevTools endpoint that hosts a single tab whose
// document holds a scripted set of elements keyed by css selector.
type FakeDevTools struct {
	Server *httptest.Server

	mutex       sync.Mutex
	nodes       []devtoolsNode
	cookies     []FakeCookie
	navigations []string
	conns       []net.Conn
	open        int
	loaders     int
}

func NewFakeDevTools(t testing.TB) *FakeDevTools {
	f := &FakeDevTools{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /json/version", f.version)
	mux.HandleFunc("GET /devtools/browser/{id}", f.connect)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.mutex.Lock()
		for _, conn := range f.conns {
			conn.Close()
		}
		f.mutex.Unlock()
		f.Server.Close()
	})
	return f
}

// Address is the host:port the fake listens on.
func (f *FakeDevTools) Address() string {
	u, _ := url.Parse(f.Server.URL)
	return u.Host
}

// AddNode places an element matching `selector` into the tab's document.
func (f *FakeDevTools) AddNode(selector string, attributes map[string]string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nodes = append(f.nodes, devtoolsNode{selector: selector, attributes: attributes})
}

func (f *FakeDevTools) SetCookies(cookies ...FakeCookie) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.cookies = cookies
}

func (f *FakeDevTools) Navigations() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.navigations...)
}

// Connections reports how many websocket connections are currently open.
func (f *FakeDevTools) Connections() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.open
}

func (f *FakeDevTools) version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]string{
		"Browser":              "HeadlessChrome/126.0.0.0",
		"Protocol-Version":     "1.3",
		"webSocketDebuggerUrl": fmt.Sprintf("ws://%s/devtools/browser/fake", r.Host),
	})
}

func (f *FakeDevTools) connect(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	f.mutex.Lock()
	f.conns = append(f.conns, conn)
	f.open++
	f.mutex.Unlock()

	defer func() {
		conn.Close()
		f.mutex.Lock()
		f.open--
		f.mutex.Unlock()
	}()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var msg devtoolsMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			return
		}
		for _, reply := range f.handle(msg) {
			out, err := json.Marshal(reply)
			if err != nil {
				return
			}
			err = wsutil.WriteServerText(conn, out)
			if err != nil {
				return
			}
		}
	}
}

// handle answers one command, the reply comes first and is followed by the
// events the command triggers.
func (f *FakeDevTools) handle(msg devtoolsMessage) []devtoolsMessage {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	reply := devtoolsMessage{Id: msg.Id, SessionId: msg.SessionId, Result: map[string]any{}}
	event := func(method string, params any) devtoolsMessage {
		raw, _ := json.Marshal(params)
		return devtoolsMessage{SessionId: devtoolsSession, Method: method, Params: raw}
	}

	switch msg.Method {
	case "Target.createTarget":
		reply.Result = map[string]any{"targetId": devtoolsTarget}
	case "Target.attachToTarget":
		reply.Result = map[string]any{"sessionId": devtoolsSession}
	case "Runtime.evaluate":
		reply.Result = map[string]any{
			"result": map[string]any{"type": "object", "className": "Window"},
		}
	case "Page.navigate":
		var params struct {
			Url string `json:"url"`
		}
		json.Unmarshal(msg.Params, &params)
		f.navigations = append(f.navigations, params.Url)
		f.loaders++
		loader := fmt.Sprintf("loader-%d", f.loaders)
		reply.Result = map[string]any{"frameId": devtoolsTarget, "loaderId": loader}

		return []devtoolsMessage{
			reply,
			event("Page.frameNavigated", map[string]any{
				"frame": map[string]any{
					"id":             devtoolsTarget,
					"loaderId":       loader,
					"url":            params.Url,
					"securityOrigin": params.Url,
					"mimeType":       "text/html",
				},
			}),
			event("Runtime.executionContextCreated", map[string]any{
				"context": map[string]any{
					"id":       f.loaders,
					"origin":   params.Url,
					"name":     "",
					"uniqueId": loader,
					"auxData":  map[string]any{"frameId": devtoolsTarget, "isDefault": true},
				},
			}),
			event("Page.lifecycleEvent", map[string]any{
				"frameId":   devtoolsTarget,
				"loaderId":  loader,
				"name":      "init",
				"timestamp": 1,
			}),
			event("DOM.documentUpdated", map[string]any{}),
			event("Page.loadEventFired", map[string]any{"timestamp": 2}),
		}
	case "DOM.getDocument":
		reply.Result = map[string]any{"root": f.document()}
	case "DOM.querySelector":
		var params struct {
			Selector string `json:"selector"`
		}
		json.Unmarshal(msg.Params, &params)
		reply.Result = map[string]any{"nodeId": f.nodeId(params.Selector)}
	case "Network.getCookies":
		cookies := make([]map[string]any, len(f.cookies))
		for i, c := range f.cookies {
			cookies[i] = map[string]any{
				"name":     c.Name,
				"value":    c.Value,
				"domain":   c.Domain,
				"path":     c.Path,
				"expires":  -1,
				"size":     len(c.Name) + len(c.Value),
				"httpOnly": false,
				"secure":   true,
				"session":  true,
			}
		}
		reply.Result = map[string]any{"cookies": cookies}
	}
	return []devtoolsMessage{reply}
}

// nodeId returns the id the document assigns to the element matching
// `selector`, or 0 when there is none.
func (f *FakeDevTools) nodeId(selector string) int {
	for i, n := range f.nodes {
		if n.selector == selector {
			return i + 2
		}
	}
	return 0
}

func (f *FakeDevTools) document() map[string]any {
	children := make([]map[string]any, len(f.nodes))
	for i, n := range f.nodes {
		var attributes []string
		for name, value := range n.attributes {
			attributes = append(attributes, name, value)
		}
		children[i] = map[string]any{
			"nodeId":        i + 2,
			"parentId":      1,
			"backendNodeId": i + 2,
			"nodeType":      1,
			"nodeName":      "DIV",
			"localName":     "div",
			"nodeValue":     "",
			"attributes":    attributes,
		}
	}
	return map[string]any{
		"nodeId":         1,
		"backendNodeId":  1,
		"nodeType":       9,
		"nodeName":       "#document",
		"localName":      "",
		"nodeValue":      "",
		"childNodeCount": len(children),
		"children":       children,
	}
}
