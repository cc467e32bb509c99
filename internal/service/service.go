// Package service hosts the per-service collaborators the pipeline consumes:
// URL resolution and metadata lookup. Each service recognizes its own URLs;
// the registry dispatches between them.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

// Service resolves URLs it recognizes and fetches metadata for its items.
type Service interface {
	Name() string
	Matches(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) ([]media.Descriptor, error)
	FetchMetadata(ctx context.Context, itemID string) (media.Metadata, error)
}

// Registry dispatches resolution and metadata calls to the registered
// services. It implements the pipeline's Source and MetadataSource contracts.
type Registry struct {
	services []Service
}

// NewRegistry returns a registry over the given services, consulted in order.
func NewRegistry(services ...Service) *Registry {
	return &Registry{services: services}
}

// Resolve splits the raw input into individual URLs and resolves each with
// the first service that recognizes it. A multi-URL paste therefore expands
// into one descriptor per URL, like a playlist expands into its entries.
func (r *Registry) Resolve(ctx context.Context, input string) ([]media.Descriptor, error) {
	urls := SplitInput(input)
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URL found in input %q", input)
	}

	var out []media.Descriptor
	for _, rawURL := range urls {
		svc := r.match(rawURL)
		if svc == nil {
			return nil, fmt.Errorf("no service recognizes %q", rawURL)
		}

		descriptors, err := svc.Resolve(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("resolve via %s: %w", svc.Name(), err)
		}
		out = append(out, descriptors...)
	}
	return out, nil
}

// FetchMetadata dispatches to the service registered under the given tag.
func (r *Registry) FetchMetadata(ctx context.Context, service, itemID string) (media.Metadata, error) {
	for _, svc := range r.services {
		if strings.EqualFold(svc.Name(), service) {
			return svc.FetchMetadata(ctx, itemID)
		}
	}
	return media.Metadata{}, fmt.Errorf("unknown service %q", service)
}

func (r *Registry) match(rawURL string) Service {
	for _, svc := range r.services {
		if svc.Matches(rawURL) {
			return svc
		}
	}
	return nil
}

// SplitInput breaks a submitted string into individual URLs. Inputs pasted
// from single-line boxes can glue several URLs together with the newlines
// stripped, so the string is split on every "https://" marker in addition to
// whitespace.
// A non-URL search term passes through untouched for a search-capable
// service to claim.
func SplitInput(input string) []string {
	trimmed := strings.TrimSpace(input)
	if !strings.Contains(trimmed, "://") {
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var urls []string
	for _, field := range strings.Fields(trimmed) {
		if strings.Count(field, "https://") > 1 {
			for _, part := range strings.Split(field, "https://") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				urls = append(urls, "https://"+part)
			}
			continue
		}
		urls = append(urls, field)
	}
	return urls
}
