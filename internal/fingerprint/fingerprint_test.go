package fingerprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	testCases := []struct {
		name     string
		html     string
		expected Fingerprint
		found    bool
	}{
		{
			name:     "double quoted asset",
			html:     `<script src="/assets/app-ab12cd34.js"></script>`,
			expected: "ab12cd34",
			found:    true,
		},
		{
			name:     "single quoted asset",
			html:     `<script src='/assets/app-ef56gh78.js'></script>`,
			expected: "ef56gh78",
			found:    true,
		},
		{
			name:     "module script with attributes before src",
			html:     `<script type="module" crossorigin src="/assets/index-Dk3_x9a.js"></script>`,
			expected: "Dk3_x9a",
			found:    true,
		},
		{
			name:     "dashes in path use the last segment",
			html:     `<script src="/my-app/static/main-chunk-123abc.js"></script>`,
			expected: "123abc",
			found:    true,
		},
		{
			name:     "upper case markup",
			html:     `<SCRIPT SRC="/assets/app-AB12.JS"></SCRIPT>`,
			expected: "AB12",
			found:    true,
		},
		{
			name:  "unbundled development page",
			html:  `<script type="module" src="/src/main.tsx"></script>`,
			found: false,
		},
		{
			name:  "stylesheet with hash is ignored",
			html:  `<link rel="stylesheet" href="/assets/index-abc123.css">`,
			found: false,
		},
		{
			name:  "preload link is ignored",
			html:  `<link rel="modulepreload" href="/assets/vendor-abc123.js">`,
			found: false,
		},
		{
			name:  "mismatched quotes",
			html:  `<script src="/assets/app-abc.js'></script>`,
			found: false,
		},
		{
			name:  "empty document",
			html:  "",
			found: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fp, ok := Extract(tc.html)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.expected, fp)
		})
	}
}

func TestExtractFirstInDocumentOrder(t *testing.T) {
	html := `<!doctype html>
<html>
<head>
  <script>window.inline = true</script>
  <script type="module" src="/assets/index-first111.js"></script>
  <script type="module" src='/assets/vendor-second22.js'></script>
</head>
<body><script src="/assets/late-third333.js"></script></body>
</html>`

	fp, ok := Extract(html)
	require.True(t, ok)
	assert.Equal(t, Fingerprint("first111"), fp)
}

func TestExtractReader(t *testing.T) {
	fp, ok, err := ExtractReader(strings.NewReader(`<script src="/a-x1.js"></script>`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x1", fp.String())

	_, _, err = ExtractReader(failingReader{})
	assert.Error(t, err)
}

func TestFingerprintHelpers(t *testing.T) {
	var zero Fingerprint
	assert.True(t, zero.IsZero())
	assert.True(t, Fingerprint("a").Equal("a"))
	assert.False(t, Fingerprint("a").Equal("b"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
