package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single url",
			input: "https://example.com/track/1",
			want:  []string{"https://example.com/track/1"},
		},
		{
			name:  "whitespace separated urls",
			input: "https://example.com/a\nhttps://example.com/b",
			want:  []string{"https://example.com/a", "https://example.com/b"},
		},
		{
			name:  "glued urls with stripped newlines",
			input: "https://example.com/ahttps://example.com/b",
			want:  []string{"https://example.com/a", "https://example.com/b"},
		},
		{
			name:  "plain search term stays whole",
			input: "kind of blue",
			want:  []string{"kind of blue"},
		},
		{
			name:  "empty input",
			input: "   ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitInput(tt.input))
		})
	}
}

func TestRegistryResolveMultiURL(t *testing.T) {
	registry := NewRegistry(NewGeneric())

	descriptors, err := registry.Resolve(context.Background(),
		"https://example.com/music/one.flachttps://example.com/music/two.flac")
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "generic", descriptors[0].Service)
	assert.Equal(t, "https://example.com/music/one.flac", descriptors[0].URL)
	assert.Equal(t, "https://example.com/music/two.flac", descriptors[1].URL)
}

func TestRegistryResolveUnknownInput(t *testing.T) {
	registry := NewRegistry(NewGeneric())

	_, err := registry.Resolve(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
}

func TestRegistryFetchMetadataDispatch(t *testing.T) {
	registry := NewRegistry(NewGeneric())

	meta, err := registry.FetchMetadata(context.Background(), "generic",
		"https://cdn.example.com/albums/Blue%20Train.flac")
	require.NoError(t, err)
	assert.Equal(t, "Blue Train", meta.Title)
	assert.Equal(t, "cdn.example.com", meta.Artists)

	_, err = registry.FetchMetadata(context.Background(), "tidal", "123")
	assert.Error(t, err)
}

func TestGenericMatches(t *testing.T) {
	g := NewGeneric()
	assert.True(t, g.Matches("https://example.com/a"))
	assert.True(t, g.Matches("http://example.com/a"))
	assert.False(t, g.Matches("ftp://example.com/a"))
	assert.False(t, g.Matches("not a url"))
}
