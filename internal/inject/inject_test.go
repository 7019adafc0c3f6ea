package inject

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tag = "<script>x()</script>"

func TestIntoHead(t *testing.T) {
	testCases := []struct {
		name     string
		doc      string
		expected string
	}{
		{
			name:     "before head end",
			doc:      `<html><head><title>t</title></head><body></body></html>`,
			expected: `<html><head><title>t</title>` + tag + `</head><body></body></html>`,
		},
		{
			name:     "upper case head",
			doc:      `<HTML><HEAD></HEAD></HTML>`,
			expected: `<HTML><HEAD>` + tag + `</HEAD></HTML>`,
		},
		{
			name:     "head end inside script text is ignored",
			doc:      `<html><head><script>var s = "</head>";</script></head></html>`,
			expected: `<html><head><script>var s = "</head>";</script>` + tag + `</head></html>`,
		},
		{
			name:     "implicit head",
			doc:      `<html lang="en"><body><p>hi</p></body></html>`,
			expected: `<html lang="en">` + tag + `<body><p>hi</p></body></html>`,
		},
		{
			name:     "html element only",
			doc:      `<!doctype html><html><p>hi</p></html>`,
			expected: `<!doctype html><html>` + tag + `<p>hi</p></html>`,
		},
		{
			name:     "fragment",
			doc:      `<p>hi</p>`,
			expected: tag + `<p>hi</p>`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, string(IntoHead([]byte(tc.doc), []byte(tag))))
		})
	}

	assert.Equal(t, "<p></p>", string(IntoHead([]byte("<p></p>"), nil)))
}

func serve(t *testing.T, handler http.Handler, gen Generator) *http.Response {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(gen, nil)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec.Result()
}

func staticTag(r *http.Request, doc []byte) ([]byte, error) { return []byte(tag), nil }

func TestMiddlewareInjectsHTML(t *testing.T) {
	const doc = `<html><head></head><body></body></html>`
	var seen []byte

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
		w.Header().Set("ETag", `"abc"`)
		io.WriteString(w, doc)
	})

	resp := serve(t, handler, GeneratorFunc(func(r *http.Request, d []byte) ([]byte, error) {
		seen = append([]byte(nil), d...)
		return []byte(tag), nil
	}))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	expected := `<html><head>` + tag + `</head><body></body></html>`
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, expected, string(body))
	assert.Equal(t, strconv.Itoa(len(expected)), resp.Header.Get("Content-Length"))
	assert.Empty(t, resp.Header.Get("ETag"))
	assert.Equal(t, doc, string(seen))
}

func TestMiddlewarePassesThroughOtherResponses(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		encoding    string
		status      int
	}{
		{"stylesheet", "text/css", "", http.StatusOK},
		{"not found page", "text/html", "", http.StatusNotFound},
		{"compressed html", "text/html", "gzip", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				if tc.encoding != "" {
					w.Header().Set("Content-Encoding", tc.encoding)
				}
				w.WriteHeader(tc.status)
				io.WriteString(w, "<head></head>")
			})

			resp := serve(t, handler, GeneratorFunc(staticTag))
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "<head></head>", string(body))
		})
	}
}

func TestMiddlewareSniffsContentType(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<!DOCTYPE html><html><head></head></html>")
	})

	resp := serve(t, handler, GeneratorFunc(staticTag))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), tag+"</head>")
}

func TestMiddlewareFailsOnGeneratorError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><head></head></html>")
	})

	resp := serve(t, handler, GeneratorFunc(func(*http.Request, []byte) ([]byte, error) {
		return nil, errors.New("version metadata unavailable")
	}))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "version metadata unavailable")
	assert.NotContains(t, string(body), "<head>")
}
