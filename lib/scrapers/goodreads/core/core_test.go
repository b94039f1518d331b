package core

import (
	"context"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/testutil"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientCarriesCookies(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/goodreads/core")
	defer cleanup()

	site := testutil.NewFakeSite(t)
	site.HTML("/", "<html><body><h1>home</h1></body></html>")

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:   site.Server.URL,
		Selectors: DefaultSelectors(),
		Cookies:   []*http.Cookie{{Name: "session-id", Value: "abc", Path: "/"}},
	})
	require.NoError(t, err)

	doc, err := client.FetchDocument(context.Background(), "/")
	require.NoError(t, err)
	require.Equal(t, "home", doc.Find("h1").Text())

	requests := site.Requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Cookies, 1)
	require.Equal(t, "abc", requests[0].Cookies[0].Value)

	_, err = client.Fetch(context.Background(), "/missing")
	require.ErrorIs(t, err, ErrHttpStatus)
}

func TestResolveLink(t *testing.T) {
	client, err := NewClient(context.Background(), ClientOptions{})
	require.NoError(t, err)

	link, err := client.ResolveLink("/book/show/44767458-dune")
	require.NoError(t, err)
	require.Equal(t, "https://www.goodreads.com/book/show/44767458-dune", link.String())

	link, err = client.ResolveLink("https://images.example.com/cover.jpg")
	require.NoError(t, err)
	require.Equal(t, "https://images.example.com/cover.jpg", link.String())
}
