package media

import (
	"context"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"whatsapp-inbox/internal/whatsapp"
)

// Source is the slice of the Graph client the fetcher needs.
type Source interface {
	GetMediaMetadata(ctx context.Context, mediaID string) (*whatsapp.MediaMetadata, error)
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// Stored describes a media binary after it has been copied to blob storage.
type Stored struct {
	URL      string
	MimeType string
	Size     int
}

// Fetcher copies provider-hosted media into a BlobStore.
type Fetcher struct {
	source Source
	store  BlobStore
}

func NewFetcher(source Source, store BlobStore) *Fetcher {
	return &Fetcher{source: source, store: store}
}

// Fetch resolves mediaID to a signed URL, downloads it and stores the binary
// under media/<tenantID>/<mediaID><ext>.
func (f *Fetcher) Fetch(ctx context.Context, tenantID, mediaID string) (*Stored, error) {
	meta, err := f.source.GetMediaMetadata(ctx, mediaID)
	if err != nil {
		return nil, errors.Wrapf(err, "media %s metadata", mediaID)
	}

	data, err := f.source.DownloadMedia(ctx, meta.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "media %s download", mediaID)
	}

	mimeType := meta.MimeType
	ext := ""
	if m := mimetype.Lookup(mimeType); m != nil {
		ext = m.Extension()
	} else {
		detected := mimetype.Detect(data)
		ext = detected.Extension()
		if mimeType == "" {
			mimeType = detected.String()
		}
	}

	url, err := f.store.Put(ctx, "media/"+tenantID+"/"+mediaID+ext, data, mimeType)
	if err != nil {
		return nil, errors.Wrapf(err, "media %s store", mediaID)
	}

	return &Stored{URL: url, MimeType: mimeType, Size: len(data)}, nil
}
