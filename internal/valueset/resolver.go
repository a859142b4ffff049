package valueset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
)

var (
	ErrExpansionFailed           = errors.New("value set expansion failed")
	ErrNoResolutionTarget        = errors.New("no terminology server or FHIR server available")
	ErrContainedValueSetNotFound = errors.New("contained value set not found")
)

const expandPath = "ValueSet/$expand"

// Options configures a Resolver.
type Options struct {
	// Ambient is the default FHIR server, used when neither the item nor the
	// form names a terminology server. May be nil.
	Ambient Client
	// DefaultServer is the terminology server used for items with no server
	// of their own, ahead of Ambient.
	DefaultServer string
	// NewClient builds a client for a terminology server base URL.
	NewClient func(baseURL string) Client
	// AllowHTML keeps rich-text displays from contained value set compose
	// sections.
	AllowHTML bool
	// Concurrency bounds LoadAnswerValueSets. Zero means 4.
	Concurrency int
}

// ClientFactory returns a NewClient function sharing httpClient and limiter
// across servers.
func ClientFactory(httpClient *http.Client, limiter *rate.Limiter) func(string) Client {
	return func(baseURL string) Client {
		return NewHTTPClient(baseURL, httpClient, limiter)
	}
}

// Resolver loads the answer lists of items bound to a value set.
type Resolver struct {
	cache   *Cache
	opts    Options
	matcher form.AnswerMatcher
	logger  zerolog.Logger
}

func NewResolver(cache *Cache, opts Options, logger zerolog.Logger) *Resolver {
	if opts.NewClient == nil {
		opts.NewClient = ClientFactory(nil, nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Resolver{cache: cache, opts: opts, logger: logger}
}

// needsResolution reports whether the item's list has to be fetched.
func needsResolution(item *form.Item) bool {
	return len(item.Answers) == 0 && item.AnswerValueSet != "" && !item.IsSearchAutocomplete
}

// LoadAnswerValueSets resolves every value-set-bound item of f. Items are
// resolved independently; the errors of failed items are joined.
func (r *Resolver) LoadAnswerValueSets(ctx context.Context, f *form.Form) error {
	var items []*form.Item
	f.Walk(func(it *form.Item) {
		if needsResolution(it) {
			items = append(items, it)
		}
	})
	if len(items) == 0 {
		return nil
	}

	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, it := range items {
		g.Go(func() error {
			errs[i] = r.ResolveItem(ctx, f, it)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// ResolveItem loads the answer list of one item of f. On success the list is
// assigned and the item's current values are matched against it again. On
// failure a loading message is recorded on the item.
func (r *Resolver) ResolveItem(ctx context.Context, f *form.Form, item *form.Item) error {
	if !needsResolution(item) {
		return nil
	}

	answers, err := r.resolve(ctx, f, item)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("link_id", item.LinkID).
			Str("value_set", item.AnswerValueSet).
			Msg("answer value set not loaded")
		item.SetMessages(form.SourceValueSets,
			form.NewMessage(form.KindError, form.MsgAnswerValueSetLoadingError, ""))
		return fmt.Errorf("loading value set %s for item %s: %w", item.AnswerValueSet, item.LinkID, err)
	}

	item.Answers = cloneAnswers(answers)
	r.matcher.Revalidate(item)
	item.SetMessages(form.SourceValueSets, form.NotOnListMessages(item.Value)...)
	return nil
}

func (r *Resolver) resolve(ctx context.Context, f *form.Form, item *form.Item) ([]*form.Answer, error) {
	server := f.TerminologyServerFor(item)
	if server == "" {
		server = r.opts.DefaultServer
	}

	if id, ok := strings.CutPrefix(item.AnswerValueSet, "#"); ok {
		return r.resolveContained(ctx, f, id, server)
	}

	if server != "" {
		server = strings.TrimRight(server, "/")
		key := expansionKey(server, item.AnswerValueSet)
		return r.cache.Resolve(ctx, key, func(ctx context.Context) ([]*form.Answer, error) {
			r.logger.Debug().Str("url", key).Msg("expanding value set")
			return r.expandCanonical(ctx, r.opts.NewClient(server), item.AnswerValueSet)
		})
	}

	if r.opts.Ambient == nil {
		return nil, ErrNoResolutionTarget
	}
	canonical := item.AnswerValueSet
	return r.cache.Resolve(ctx, canonical, func(ctx context.Context) ([]*form.Answer, error) {
		r.logger.Debug().Str("value_set", canonical).Msg("expanding value set on FHIR server")
		return r.expandCanonical(ctx, r.opts.Ambient, canonical)
	})
}

// expansionKey is the $expand URL used as cache key for a canonical value set
// expanded on server.
func expansionKey(server, canonical string) string {
	return server + "/" + expandPath + "?url=" + url.QueryEscape(canonical) + "&_format=json"
}

// containedKey identifies a contained value set by the body posted for it and
// the server it is posted to, so equal local ids in unrelated forms never
// share an entry.
func containedKey(server, id string, payload []byte, allowHTML bool) string {
	h := sha256.New()
	h.Write([]byte(server))
	h.Write([]byte{'\n'})
	if allowHTML {
		h.Write([]byte("html\n"))
	}
	h.Write(payload)
	return "#" + id + "@" + hex.EncodeToString(h.Sum(nil))
}

func (r *Resolver) expandCanonical(ctx context.Context, client Client, canonical string) ([]*form.Answer, error) {
	query := url.Values{"url": {canonical}, "_format": {"json"}}
	body, err := client.Get(ctx, expandPath, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExpansionFailed, err)
	}
	vs, err := decodeExpansion(body)
	if err != nil {
		return nil, err
	}
	return AnswersFromValueSet(vs), nil
}

func (r *Resolver) resolveContained(ctx context.Context, f *form.Form, id, server string) ([]*form.Answer, error) {
	res, ok := f.ContainedResource(id)
	if !ok || res["resourceType"] != "ValueSet" {
		return nil, fmt.Errorf("%w: #%s", ErrContainedValueSetNotFound, id)
	}

	var client Client
	switch {
	case server != "":
		client = r.opts.NewClient(server)
	case r.opts.Ambient != nil:
		client = r.opts.Ambient
	default:
		return nil, ErrNoResolutionTarget
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding contained value set: %w", err)
	}
	key := containedKey(server, id, payload, r.opts.AllowHTML)
	return r.cache.Resolve(ctx, key, func(ctx context.Context) ([]*form.Answer, error) {
		r.logger.Debug().Str("id", id).Str("server", server).Msg("expanding contained value set")
		return r.expandContained(ctx, client, payload)
	})
}

func (r *Resolver) expandContained(ctx context.Context, client Client, payload []byte) ([]*form.Answer, error) {
	body, err := client.Post(ctx, expandPath, url.Values{"_format": {"json"}}, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExpansionFailed, err)
	}
	vs, err := decodeExpansion(body)
	if err != nil {
		return nil, err
	}

	if r.opts.AllowHTML {
		if vs.Compose == nil {
			var posted fhir.ValueSet
			if err := json.Unmarshal(payload, &posted); err == nil {
				vs.Compose = posted.Compose
			}
		}
		vs.CopyComposeDisplays()
	}
	return AnswersFromValueSet(vs), nil
}
