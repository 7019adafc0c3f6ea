package stamp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/inject"
	"github.com/conneroisu/verdrift/internal/monitor"
	"github.com/conneroisu/verdrift/internal/snippet"
)

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <script type="module" crossorigin src="/assets/index-ab12cd34.js"></script>
</head>
<body><div id="root"></div></body>
</html>`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644))
	return dir
}

func TestResolveVersion(t *testing.T) {
	t.Run("explicit version wins", func(t *testing.T) {
		v, err := ResolveVersion(VersionSource{Version: " 2.0.0 ", ProjectDir: "/nonexistent"})
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", v)
	})

	t.Run("package manifest", func(t *testing.T) {
		dir := writeManifest(t, `{"name":"app","version":"1.4.2"}`)
		v, err := ResolveVersion(VersionSource{ProjectDir: dir})
		require.NoError(t, err)
		assert.Equal(t, "1.4.2", v)
	})

	failures := map[string]string{
		"missing version field": `{"name":"app"}`,
		"invalid json":          `{"version":`,
	}
	for name, content := range failures {
		t.Run(name, func(t *testing.T) {
			dir := writeManifest(t, content)
			_, err := ResolveVersion(VersionSource{ProjectDir: dir})
			require.Error(t, err)
			assert.True(t, errors.IsBuildError(err))
			assert.Contains(t, err.Error(), "package.json")
		})
	}

	t.Run("missing manifest", func(t *testing.T) {
		_, err := ResolveVersion(VersionSource{ProjectDir: t.TempDir()})
		require.Error(t, err)
		assert.True(t, errors.IsBuildError(err))
	})
}

func TestNewMetadata(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 5, 7, 0, time.Local)
	meta := NewMetadata("1.4.2", at)

	assert.Equal(t, "2026-10-15 09:05:07", meta.CompileTime)
	assert.Equal(t, "261015", meta.Stamp)
	assert.Equal(t, "1.4.2.261015", meta.Label())
}

func newInjector(t *testing.T) *Injector {
	t.Helper()
	cfg := monitor.DefaultConfig()
	cfg.KeyPrefix = monitor.KeyPrefix("/srv/app")
	inj, err := NewInjector(NewMetadata("1.4.2", time.Now()), snippet.Options{Monitor: cfg}, "")
	require.NoError(t, err)
	return inj
}

func TestInjectorStamp(t *testing.T) {
	out, err := newInjector(t).Stamp(context.Background(), []byte(indexHTML))
	require.NoError(t, err)

	assert.True(t, out.Found)
	assert.Equal(t, fingerprint.Fingerprint("ab12cd34"), out.Fingerprint)
	assert.Contains(t, out.Script, `"fingerprint":"ab12cd34"`)

	doc := string(out.Document)
	headEnd := strings.Index(doc, "</head>")
	tagStart := strings.Index(doc, "<script>;(function")
	require.Positive(t, tagStart)
	assert.Less(t, tagStart, headEnd)

	// the injected monitor must not change the page's own fingerprint
	fp, ok := fingerprint.Extract(doc)
	assert.True(t, ok)
	assert.Equal(t, out.Fingerprint, fp)
}

func TestInjectorWithoutFingerprint(t *testing.T) {
	out, err := newInjector(t).Stamp(context.Background(), []byte(`<html><head></head></html>`))
	require.NoError(t, err)

	assert.False(t, out.Found)
	assert.NotContains(t, out.Script, `"fingerprint"`)
	assert.Contains(t, string(out.Document), `w.version = "1.4.2";`)
}

func TestNewInjectorRejectsMissingVersion(t *testing.T) {
	_, err := NewInjector(Metadata{CompileTime: "now"}, snippet.Options{}, "")
	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))
}

func TestInjectorAsMiddlewareGenerator(t *testing.T) {
	handler := inject.Middleware(newInjector(t), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, indexHTML)
	}))

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `"fingerprint":"ab12cd34"`)
	assert.Contains(t, string(body), monitor.KeyPrefix("/srv/app"))
}

func TestInjectorRefusesStampedDocument(t *testing.T) {
	inj := newInjector(t)
	out, err := inj.Stamp(context.Background(), []byte(indexHTML))
	require.NoError(t, err)

	_, err = inj.Stamp(context.Background(), out.Document)
	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))

	tag, err := inj.Snippet(httptest.NewRequest(http.MethodGet, "/", nil), out.Document)
	require.NoError(t, err)
	assert.Empty(t, tag)
}
