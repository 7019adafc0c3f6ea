// Package inject places the drift monitor into HTML documents, either once
// at build time or on the fly for every HTML response of a server.
package inject

import (
	"bytes"

	"golang.org/x/net/html"
)

// IntoHead returns doc with tag inserted right before </head>. Documents
// without an explicit head end get the tag before <body>, then after <html>,
// and as a last resort at the very beginning.
func IntoHead(doc, tag []byte) []byte {
	if len(tag) == 0 {
		return doc
	}

	at := insertionPoint(doc)

	out := make([]byte, 0, len(doc)+len(tag))
	out = append(out, doc[:at]...)
	out = append(out, tag...)
	out = append(out, doc[at:]...)
	return out
}

func insertionPoint(doc []byte) int {
	z := html.NewTokenizer(bytes.NewReader(doc))

	offset := 0
	afterHTML := -1
	beforeBody := -1

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		start := offset
		offset += len(z.Raw())

		switch tt {
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "head" {
				return start
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "html":
				if afterHTML < 0 {
					afterHTML = offset
				}
			case "body":
				if beforeBody < 0 {
					beforeBody = start
				}
			}
		}
	}

	switch {
	case beforeBody >= 0:
		return beforeBody
	case afterHTML >= 0:
		return afterHTML
	default:
		return 0
	}
}
