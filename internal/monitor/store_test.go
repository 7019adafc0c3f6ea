package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/conneroisu/verdrift/internal/errors"
)

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "baselines.yml")

	first := NewFileStore(path)
	_, ok, err := first.Get(ctx, "app_fingerprint")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Set(ctx, "app_fingerprint", "ab12cd34"))
	require.NoError(t, first.Set(ctx, "other_fingerprint", "zz99"))

	second := NewFileStore(path)
	v, ok, err := second.Get(ctx, "app_fingerprint")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ab12cd34", v)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "baselines:")
	assert.Contains(t, string(data), "other_fingerprint: zz99")
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yml")
	require.NoError(t, os.WriteFile(path, []byte("baselines: [unterminated"), 0o644))

	_, _, err := NewFileStore(path).Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestMonitorWithFileStore(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "state.yml"))

	mon, err := New(Config{URL: "http://app.test/", KeyPrefix: KeyPrefix("/srv/app")},
		WithStore(store),
		WithFetcher(FetcherFunc(func(context.Context, string) (string, error) {
			return page("ef56gh78"), nil
		})),
		WithHandler(AutoApplyHandler{}),
	)
	require.NoError(t, err)
	require.NoError(t, mon.Seed(ctx, "ab12cd34"))

	res := mon.CheckForUpdates(ctx)
	assert.Equal(t, OutcomeDrifted, res.Outcome)
	assert.Equal(t, Accepted, res.Resolution)

	v, _, err := store.Get(ctx, mon.Config().StorageKey())
	require.NoError(t, err)
	assert.Equal(t, "ef56gh78", v)
}

func TestHTTPFetcherBypassesCaches(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page("ab12cd34")))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())
	fetcher.now = func() time.Time { return time.UnixMilli(1700000000123) }

	body, err := fetcher.Fetch(context.Background(), srv.URL+"/index.html?lang=en")
	require.NoError(t, err)
	assert.Contains(t, body, "app-ab12cd34.js")

	require.NotNil(t, got)
	assert.Equal(t, "no-cache, no-store, must-revalidate", got.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", got.Header.Get("Pragma"))
	assert.Equal(t, "0", got.Header.Get("Expires"))
	assert.Equal(t, "1700000000123", got.URL.Query().Get("_t"))
	assert.Equal(t, "en", got.URL.Query().Get("lang"))
}

func TestHTTPFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())

	_, err := fetcher.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, derrors.IsNetworkError(err))
	assert.True(t, strings.Contains(err.Error(), "503"))

	_, err = fetcher.Fetch(context.Background(), "ftp://example.test/")
	require.Error(t, err)
	assert.False(t, derrors.IsNetworkError(err))
}
