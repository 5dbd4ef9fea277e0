// Package seeds manages the registry of listing URLs a scrape can start from.
package seeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/journal"
)

// DefaultName labels seeds that are not category pages.
const DefaultName = "Custom URL"

// ErrInvalidURL is returned for URLs outside the configured site.
var ErrInvalidURL = errors.New("invalid seed url")

var wordStart = regexp.MustCompile(`\b\w`)

// Store is the slice of crawler.Repository the registry needs.
type Store interface {
	AddSeedURL(ctx context.Context, seed crawler.SeedURL) error
	ListSeedURLs(ctx context.Context) ([]crawler.SeedURL, error)
	UpdateSeedURLStatus(ctx context.Context, id string, status crawler.SeedURLStatus) error
	RemoveSeedURL(ctx context.Context, id string) error
	ClearSeedURLs(ctx context.Context) error
}

// Registry validates and stores seed URLs.
type Registry struct {
	store   Store
	ids     crawler.IDGenerator
	clock   crawler.Clock
	journal *journal.Journal
	host    string
}

// New builds a Registry accepting URLs on host or its subdomains.
func New(store Store, ids crawler.IDGenerator, clock crawler.Clock, j *journal.Journal, host string) *Registry {
	if j == nil {
		j = journal.New(nil, nil, clock, nil)
	}
	return &Registry{
		store:   store,
		ids:     ids,
		clock:   clock,
		journal: j,
		host:    strings.ToLower(strings.TrimSpace(host)),
	}
}

// Validate reports whether raw is an absolute http(s) URL on the registry host.
func (r *Registry) Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	host := strings.ToLower(u.Hostname())
	if r.host != "" && host != r.host && !strings.HasSuffix(host, "."+r.host) {
		return fmt.Errorf("%w: host %q is not %s", ErrInvalidURL, host, r.host)
	}
	return nil
}

// Add registers raw and returns the stored seed. Duplicates surface as
// crawler.ErrDuplicate.
func (r *Registry) Add(ctx context.Context, raw string) (crawler.SeedURL, error) {
	raw = strings.TrimSpace(raw)
	if err := r.Validate(raw); err != nil {
		return crawler.SeedURL{}, err
	}
	id, err := r.ids.NewID()
	if err != nil {
		return crawler.SeedURL{}, fmt.Errorf("generate seed id: %w", err)
	}
	seed := crawler.SeedURL{
		ID:        id,
		URL:       raw,
		Name:      NameFromURL(raw),
		Status:    crawler.SeedURLPending,
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.AddSeedURL(ctx, seed); err != nil {
		return crawler.SeedURL{}, fmt.Errorf("add seed url: %w", err)
	}
	r.journal.Info(ctx, "", "Added URL: "+seed.Name)
	return seed, nil
}

// List returns every registered seed.
func (r *Registry) List(ctx context.Context) ([]crawler.SeedURL, error) {
	seeds, err := r.store.ListSeedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list seed urls: %w", err)
	}
	return seeds, nil
}

// MarkStatus moves a seed through pending → processing → completed|error.
func (r *Registry) MarkStatus(ctx context.Context, id string, status crawler.SeedURLStatus) error {
	if err := r.store.UpdateSeedURLStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update seed url %s: %w", id, err)
	}
	return nil
}

// TrackURL moves every registered seed with this exact URL to status. URLs
// that were never registered are ignored.
func (r *Registry) TrackURL(ctx context.Context, rawURL string, status crawler.SeedURLStatus) error {
	seeds, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		if seed.URL != rawURL {
			continue
		}
		if err := r.MarkStatus(ctx, seed.ID, status); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes one seed.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.store.RemoveSeedURL(ctx, id); err != nil {
		return fmt.Errorf("remove seed url %s: %w", id, err)
	}
	return nil
}

// Clear deletes every seed.
func (r *Registry) Clear(ctx context.Context) error {
	if err := r.store.ClearSeedURLs(ctx); err != nil {
		return fmt.Errorf("clear seed urls: %w", err)
	}
	return nil
}

// NameFromURL labels category pages by their slug: "bakery_pastry" becomes
// "Bakery & Pastry". Anything else is DefaultName.
func NameFromURL(raw string) string {
	_, rest, ok := strings.Cut(raw, "/categories/")
	if !ok {
		return DefaultName
	}
	slug, _, _ := strings.Cut(rest, "?")
	slug, _, _ = strings.Cut(slug, "#")
	slug = strings.Trim(slug, "/")
	if slug == "" {
		return DefaultName
	}
	name := strings.ReplaceAll(slug, "_", " & ")
	return wordStart.ReplaceAllStringFunc(name, strings.ToUpper)
}
