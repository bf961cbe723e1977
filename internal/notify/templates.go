package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"path"
	"time"

	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/auroraid/apiserver/internal/storage"
)

//go:embed templates/*.html
var builtinTemplates embed.FS

// Kind names a mail template.
type Kind string

const (
	KindVerification Kind = "verification"
	KindWelcome      Kind = "welcome"
)

var templateKinds = []Kind{KindVerification, KindWelcome}

func (k Kind) fileName() string {
	return string(k) + ".html"
}

// TemplateSource loads raw template text by file name.
type TemplateSource interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// EmbeddedTemplates serves the templates compiled into the binary.
type EmbeddedTemplates struct{}

func (EmbeddedTemplates) Load(ctx context.Context, name string) ([]byte, error) {
	return builtinTemplates.ReadFile(path.Join("templates", name))
}

// BucketTemplates reads templates from object storage, falling back to the
// embedded copy for keys that are not in the bucket.
type BucketTemplates struct {
	objects storage.ObjectStore
	prefix  string
}

func NewBucketTemplates(objects storage.ObjectStore, prefix string) *BucketTemplates {
	return &BucketTemplates{objects: objects, prefix: prefix}
}

func (b *BucketTemplates) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := b.objects.Get(ctx, b.prefix+name)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		return EmbeddedTemplates{}.Load(ctx, name)
	}
	return nil, fmt.Errorf("load template %s from %s: %w", name, b.objects.Bucket(), err)
}

// PushBuiltinTemplates uploads the embedded templates under prefix and
// returns the object keys written.
func PushBuiltinTemplates(ctx context.Context, objects storage.ObjectStore, prefix string) ([]string, error) {
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
	}

	keys := make([]string, 0, len(templateKinds))
	for _, kind := range templateKinds {
		data, err := EmbeddedTemplates{}.Load(ctx, kind.fileName())
		if err != nil {
			return keys, err
		}
		key := prefix + kind.fileName()
		if err := objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/html; charset=utf-8"); err != nil {
			return keys, fmt.Errorf("put %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Mail is a rendered message ready for delivery.
type Mail struct {
	Kind    Kind
	To      string
	Subject string
	HTML    string
}

type templateData struct {
	Lang          string
	Subject       string
	Product       string
	Code          string
	Password      string
	ExpiryMinutes int

	printer *message.Printer
}

// T returns the localized text for key.
func (d templateData) T(key string, args ...any) string {
	return d.printer.Sprintf(key, args...)
}

// Renderer produces localized HTML mail.
type Renderer struct {
	source  TemplateSource
	catalog catalog.Catalog
	product string
}

func NewRenderer(source TemplateSource, product string) (*Renderer, error) {
	cat, err := newMailCatalog()
	if err != nil {
		return nil, fmt.Errorf("build mail catalog: %w", err)
	}
	if source == nil {
		source = EmbeddedTemplates{}
	}
	return &Renderer{source: source, catalog: cat, product: product}, nil
}

func (r *Renderer) RenderVerification(ctx context.Context, locale, to, code string, ttl time.Duration) (Mail, error) {
	return r.render(ctx, KindVerification, locale, to, templateData{
		Code:          code,
		ExpiryMinutes: int((ttl + time.Minute - 1) / time.Minute),
	})
}

func (r *Renderer) RenderWelcome(ctx context.Context, locale, to, password string) (Mail, error) {
	return r.render(ctx, KindWelcome, locale, to, templateData{Password: password})
}

func (r *Renderer) render(ctx context.Context, kind Kind, locale, to string, data templateData) (Mail, error) {
	tag := matchLocale(locale)
	data.printer = newPrinter(r.catalog, tag)
	data.Lang = tag.String()
	data.Product = r.product
	data.Subject = data.printer.Sprintf("subject."+string(kind), r.product)

	raw, err := r.source.Load(ctx, kind.fileName())
	if err != nil {
		return Mail{}, err
	}
	tmpl, err := template.New(kind.fileName()).Parse(string(raw))
	if err != nil {
		return Mail{}, fmt.Errorf("parse %s template: %w", kind, err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return Mail{}, fmt.Errorf("render %s template: %w", kind, err)
	}
	return Mail{Kind: kind, To: to, Subject: data.Subject, HTML: body.String()}, nil
}
