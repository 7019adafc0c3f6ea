package stamp

import (
	"context"
	"net/http"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/inject"
	"github.com/conneroisu/verdrift/internal/snippet"
)

// Injector stamps documents with a drift monitor for fixed metadata.
type Injector struct {
	meta    Metadata
	options snippet.Options
	nonce   string
}

// Stamped is the result of stamping one document.
type Stamped struct {
	Document    []byte
	Script      string
	Fingerprint fingerprint.Fingerprint
	Found       bool
}

// NewInjector validates the inputs once so configuration problems surface
// before any document is served or written.
func NewInjector(meta Metadata, opts snippet.Options, nonce string) (*Injector, error) {
	in := snippet.Input{
		Version:     meta.Version,
		CompileTime: meta.CompileTime,
		Options:     opts,
	}
	if _, err := snippet.Generate(in); err != nil {
		return nil, err
	}
	return &Injector{meta: meta, options: opts, nonce: nonce}, nil
}

// Metadata returns the metadata the injector stamps with.
func (i *Injector) Metadata() Metadata { return i.meta }

// Script generates the monitor for doc, seeding it with doc's fingerprint.
func (i *Injector) Script(doc []byte) (string, fingerprint.Fingerprint, bool, error) {
	fp, found := fingerprint.Extract(string(doc))
	script, err := snippet.Generate(snippet.Input{
		Version:     i.meta.Version,
		CompileTime: i.meta.CompileTime,
		Fingerprint: fp,
		Options:     i.options,
	})
	if err != nil {
		return "", "", false, err
	}
	return script, fp, found, nil
}

// Stamp returns doc with the monitor injected into its head.
func (i *Injector) Stamp(ctx context.Context, doc []byte) (*Stamped, error) {
	if snippet.IsStamped(doc) {
		return nil, errors.NewBuildError("ALREADY_STAMPED", "document already contains a drift monitor", nil)
	}
	script, fp, found, err := i.Script(doc)
	if err != nil {
		return nil, err
	}
	tag, err := snippet.RenderTag(ctx, script, i.nonce)
	if err != nil {
		return nil, err
	}
	return &Stamped{
		Document:    inject.IntoHead(doc, tag),
		Script:      script,
		Fingerprint: fp,
		Found:       found,
	}, nil
}

// Snippet implements inject.Generator. Documents stamped at build time are
// served as they are.
func (i *Injector) Snippet(r *http.Request, doc []byte) ([]byte, error) {
	if snippet.IsStamped(doc) {
		return nil, nil
	}
	script, _, _, err := i.Script(doc)
	if err != nil {
		return nil, err
	}
	return snippet.RenderTag(r.Context(), script, i.nonce)
}

var _ inject.Generator = (*Injector)(nil)
