package service

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

// Generic handles direct http(s) URLs that no dedicated service claims. The
// URL itself serves as the item id, so metadata lookup needs no network round
// trip and is trivially idempotent.
type Generic struct{}

// NewGeneric returns the direct-URL service.
func NewGeneric() *Generic {
	return &Generic{}
}

func (g *Generic) Name() string { return "generic" }

// Matches accepts any parseable http(s) URL.
func (g *Generic) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Resolve turns a direct URL into a single track descriptor.
func (g *Generic) Resolve(_ context.Context, rawURL string) ([]media.Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	return []media.Descriptor{{
		Service:        g.Name(),
		Type:           "track",
		ID:             rawURL,
		URL:            rawURL,
		ParentCategory: "audio",
	}}, nil
}

// FetchMetadata derives a display title from the URL path and credits the
// host as the artist.
func (g *Generic) FetchMetadata(_ context.Context, itemID string) (media.Metadata, error) {
	u, err := url.Parse(itemID)
	if err != nil {
		return media.Metadata{}, fmt.Errorf("parse url: %w", err)
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = u.Host
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	return media.Metadata{
		Title:   base,
		Artists: u.Host,
		URL:     itemID,
	}, nil
}
