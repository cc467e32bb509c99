// Package media holds the item records that flow through the pipeline stages.
package media

import "github.com/google/uuid"

// Descriptor is the canonical description of a single downloadable item,
// produced by URL/search resolution. A playlist or album URL resolves to one
// Descriptor per contained item.
type Descriptor struct {
	Service        string `json:"item_service"`
	Type           string `json:"item_type"`
	ID             string `json:"item_id"`
	URL            string `json:"item_url"`
	ParentCategory string `json:"parent_category"`
	PlaylistName   string `json:"playlist_name,omitempty"`
	PlaylistBy     string `json:"playlist_by,omitempty"`
	PlaylistNumber int    `json:"playlist_number,omitempty"`
}

// Metadata is the enriched view of an item returned by a service's metadata
// endpoint. Fetching it must be idempotent.
type Metadata struct {
	Title     string `json:"title"`
	Artists   string `json:"artists"`
	URL       string `json:"item_url"`
	Thumbnail string `json:"image_url"`
}

// Item is the record tracked by the stage queues. Its shape evolves stage to
// stage: intake items carry only the raw query, pending items carry the
// descriptor fields, and download items additionally carry the claim flag,
// status and progress.
type Item struct {
	Key            string  `json:"local_id"`
	Query          string  `json:"query,omitempty"`
	Service        string  `json:"item_service"`
	Type           string  `json:"item_type"`
	ID             string  `json:"item_id"`
	Name           string  `json:"item_name,omitempty"`
	By             string  `json:"item_by,omitempty"`
	URL            string  `json:"item_url,omitempty"`
	Thumbnail      string  `json:"item_thumbnail,omitempty"`
	ParentCategory string  `json:"parent_category,omitempty"`
	PlaylistName   string  `json:"playlist_name,omitempty"`
	PlaylistBy     string  `json:"playlist_by,omitempty"`
	PlaylistNumber int     `json:"playlist_number,omitempty"`
	Status         Status  `json:"item_status,omitempty"`
	Available      bool    `json:"available"`
	Progress       float64 `json:"progress"`
	FilePath       string  `json:"file_path,omitempty"`
}

// NewKey returns a fresh item key. Keys are assigned once, when an item first
// enters the intake stage, and stay stable across all three stages.
func NewKey() string {
	return uuid.NewString()
}

// NewIntake wraps a raw URL or search query into an intake-stage record.
func NewIntake(query string) *Item {
	return &Item{Key: NewKey(), Query: query}
}

// NewPending builds a pending-stage record from a resolved descriptor. The key
// is inherited so the item stays identifiable across stages; descriptors that
// expand from a parent (playlist entries) get fresh keys via NewKey at the
// call site.
func NewPending(key string, d Descriptor) *Item {
	return &Item{
		Key:            key,
		Service:        d.Service,
		Type:           d.Type,
		ID:             d.ID,
		URL:            d.URL,
		ParentCategory: d.ParentCategory,
		PlaylistName:   d.PlaylistName,
		PlaylistBy:     d.PlaylistBy,
		PlaylistNumber: d.PlaylistNumber,
	}
}

// NewDownload builds a download-stage record from a pending record plus its
// fetched metadata. The pending record is not mutated.
func NewDownload(pending *Item, meta Metadata) *Item {
	return &Item{
		Key:            pending.Key,
		Service:        pending.Service,
		Type:           pending.Type,
		ID:             pending.ID,
		Name:           meta.Title,
		By:             meta.Artists,
		URL:            meta.URL,
		Thumbnail:      meta.Thumbnail,
		ParentCategory: pending.ParentCategory,
		PlaylistName:   pending.PlaylistName,
		PlaylistBy:     pending.PlaylistBy,
		PlaylistNumber: pending.PlaylistNumber,
		Status:         StatusWaiting,
		Available:      true,
		Progress:       0,
	}
}

// Clone returns a shallow copy of the item. Items have no reference fields, so
// a shallow copy is a full snapshot.
func (i *Item) Clone() *Item {
	cp := *i
	return &cp
}
