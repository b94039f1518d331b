package restyutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id string, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func newEchoServer(t testing.TB) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session-id", Value: "secret"})
		w.Header().Set("content-type", "text/plain")
		w.Write([]byte("hello from " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInstrumentClient(t *testing.T) {
	srv := newEchoServer(t)
	output := &memoryOutput{messages: map[string]string{}}

	client := resty.New().SetBaseURL(srv.URL)
	InstrumentClient(client, "test", output)

	_, err := client.R().
		SetBody(map[string]string{"text": "visible"}).
		Post("/first")
	require.NoError(t, err)

	_, err = client.R().
		SetContext(WithSensitiveBody(context.Background())).
		SetBody(map[string]string{"text": "hunter2"}).
		Post("/second")
	require.NoError(t, err)

	require.Len(t, output.messages, 2)

	first := output.messages["test-1"]
	require.Contains(t, first, "POST "+srv.URL+"/first")
	require.Contains(t, first, `"text":"visible"`)
	require.Contains(t, first, "hello from /first")
	require.Contains(t, first, "Set-Cookie: <redacted>")
	require.NotContains(t, first, "secret")

	second := output.messages["test-2"]
	require.NotContains(t, second, "hunter2")
	require.Contains(t, second, "hello from /second")
}

func TestNilOutputIsNoop(t *testing.T) {
	srv := newEchoServer(t)
	client := resty.New().SetBaseURL(srv.URL)
	InstrumentClient(client, "test", nil)

	res, err := client.R().Get("/")
	require.NoError(t, err)
	require.Equal(t, "hello from /", res.String())
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")
	require.NoError(t, os.MkdirAll(dir, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0600))

	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "stale"))
	require.True(t, os.IsNotExist(err))

	output.Write("page-1", "contents")
	contents, err := os.ReadFile(filepath.Join(output.Directory(), "page-1"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(contents), "contents"))
}
