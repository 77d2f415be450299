// internal/feed/client_test.go
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-tracker/internal/model"
)

const testAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>tag:forge.example,2024:/besu/releases</id>
  <title>Release notes from besu</title>
  <updated>2024-05-02T12:00:00Z</updated>
  <entry>
    <id>tag:forge.example,2024:/besu/24.5.0</id>
    <published>2024-05-02T12:00:00Z</published>
    <updated>2024-05-02T12:00:00Z</updated>
    <link rel="alternate" type="text/html" href="https://forge.example/hyperledger/besu/releases/tag/24.5.0"/>
    <title>24.5.0</title>
    <content type="html">&lt;p&gt;Mainnet ready.&lt;/p&gt;</content>
  </entry>
  <entry>
    <id>tag:forge.example,2024:/besu/24.4.0</id>
    <updated>2024-04-10T09:00:00Z</updated>
    <link rel="alternate" type="text/html" href="https://forge.example/hyperledger/besu/releases/tag/24.4.0"/>
    <title> 24.4.0 </title>
  </entry>
</feed>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hyperledger/besu/releases.atom", r.URL.Path)
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, testAtomFeed)
	}))
	defer server.Close()

	client := NewClient(testLogger())
	src := model.Source{
		Name:     "Besu",
		Client:   "besu",
		RepoURL:  server.URL + "/hyperledger/besu",
		RepoType: model.RepoTypeFeed,
	}

	releases, err := client.Fetch(context.Background(), src)

	require.NoError(t, err)
	require.Len(t, releases, 2)

	assert.Equal(t, "24.5.0", releases[0].Tag)
	assert.Equal(t, "24.5.0", releases[0].Title)
	assert.Equal(t, "https://forge.example/hyperledger/besu/releases/tag/24.5.0", releases[0].URL)
	assert.Contains(t, releases[0].Body, "Mainnet ready")
	assert.Equal(t, time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), releases[0].PublishedAt.UTC())

	// An entry without <published> uses its <updated> time, and titles are
	// trimmed.
	assert.Equal(t, "24.4.0", releases[1].Title)
	assert.Equal(t, time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC), releases[1].PublishedAt.UTC())
}

func TestClient_Fetch_CapsEntries(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"><id>t</id><title>busy project</title><updated>2024-01-01T00:00:00Z</updated>`)
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, `<entry><id>e%d</id><updated>2024-01-01T00:00:00Z</updated><title>v0.%d.0</title><link href="https://forge.example/p/releases/tag/v0.%d.0"/></entry>`, i, i, i)
	}
	b.WriteString(`</feed>`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, b.String())
	}))
	defer server.Close()

	client := NewClient(testLogger())
	releases, err := client.Fetch(context.Background(), model.Source{RepoURL: server.URL + "/p/releases.atom"})

	require.NoError(t, err)
	assert.Len(t, releases, recentEntryLimit)
}

func TestClient_Fetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(testLogger())
	_, err := client.Fetch(context.Background(), model.Source{RepoURL: server.URL + "/missing"})

	require.Error(t, err)
}

func TestReleaseFeedURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"repo URL", "https://forge.example/owner/repo", "https://forge.example/owner/repo/releases.atom"},
		{"trailing slash", "https://forge.example/owner/repo/", "https://forge.example/owner/repo/releases.atom"},
		{"explicit atom", "https://forge.example/owner/repo/releases.atom", "https://forge.example/owner/repo/releases.atom"},
		{"explicit rss", "https://forge.example/owner/repo/releases.rss", "https://forge.example/owner/repo/releases.rss"},
		{"explicit xml", "https://forge.example/feed.xml", "https://forge.example/feed.xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, releaseFeedURL(tt.in))
		})
	}
}

func TestTagFromItem_FallsBackToTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"><id>t</id><title>blog</title><updated>2024-01-01T00:00:00Z</updated><entry><id>e1</id><updated>2024-01-01T00:00:00Z</updated><title>v3.1.4</title><link href="https://blog.example/posts/new-release"/></entry></feed>`)
	}))
	defer server.Close()

	client := NewClient(testLogger())
	releases, err := client.Fetch(context.Background(), model.Source{RepoURL: server.URL + "/feed.xml"})

	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "v3.1.4", releases[0].Tag, "a link without /tag/ should fall back to the entry title")
}
