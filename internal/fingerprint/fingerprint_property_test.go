//go:build property

package fingerprint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func tokenGen() gopter.Gen {
	return gen.AlphaString().Map(func(s string) string {
		if s == "" {
			return "x"
		}
		if len(s) > 16 {
			return s[:16]
		}
		return s
	})
}

// TestExtractProperties validates extraction over generated documents
func TestExtractProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("single tag yields its token", prop.ForAll(
		func(token string, single bool) bool {
			quote := `"`
			if single {
				quote = "'"
			}
			html := fmt.Sprintf("<html><head><script type=\"module\" src=%s/assets/index-%s.js%s></script></head></html>",
				quote, token, quote)
			fp, ok := Extract(html)
			return ok && fp.String() == token
		},
		tokenGen(),
		gen.Bool(),
	))

	properties.Property("first tag in document order wins", prop.ForAll(
		func(tokens []string) bool {
			if len(tokens) == 0 {
				return true
			}
			var b strings.Builder
			b.WriteString("<head>")
			for i, token := range tokens {
				fmt.Fprintf(&b, `<script src="/assets/chunk%d-%s.js"></script>`, i, token)
			}
			b.WriteString("</head>")
			fp, ok := Extract(b.String())
			return ok && fp.String() == tokens[0]
		},
		gen.SliceOf(tokenGen()),
	))

	properties.Property("documents without script tags never match", prop.ForAll(
		func(body string) bool {
			html := "<html><body>" + strings.ReplaceAll(body, "<", "") + "</body></html>"
			_, ok := Extract(html)
			return !ok
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
