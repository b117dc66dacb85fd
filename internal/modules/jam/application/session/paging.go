package session

import (
	"context"
	"fmt"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// DefaultPageSize is the number of tracks requested per catalog page.
const DefaultPageSize = 50

// fetchAllTracks pages through a playlist until the catalog returns no next
// offset. On error it returns the tracks fetched so far.
func fetchAllTracks(
	ctx context.Context,
	catalog ports.CatalogService,
	playlistID domain.PlaylistID,
	pageSize int,
) ([]domain.Track, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var tracks []domain.Track
	offset := 0
	for {
		page, err := catalog.GetPlaylistTracksPage(ctx, playlistID, pageSize, offset)
		if err != nil {
			return tracks, fmt.Errorf("fetch tracks at offset %d: %w", offset, err)
		}
		tracks = append(tracks, page.Items...)

		if page.NextOffset == nil {
			return tracks, nil
		}
		if *page.NextOffset <= offset {
			return tracks, fmt.Errorf("catalog returned non-advancing offset %d", *page.NextOffset)
		}
		offset = *page.NextOffset
	}
}
