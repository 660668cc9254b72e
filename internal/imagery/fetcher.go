// Package imagery downloads photo bytes for pending grid entries and hands
// them back to the owning session.
package imagery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/Oxyrus/pinphotos/internal/session"
)

const defaultMaxImageBytes = 20 << 20

// Fetcher downloads a single image and normalises it to JPEG.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   defaultMaxImageBytes,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (session.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return session.Image{}, fmt.Errorf("imagery: build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return session.Image{}, fmt.Errorf("imagery: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return session.Image{}, fmt.Errorf("imagery: download: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return session.Image{}, fmt.Errorf("imagery: read body: %w", err)
	}
	if int64(len(raw)) > f.maxBytes {
		return session.Image{}, fmt.Errorf("imagery: image exceeds %d bytes", f.maxBytes)
	}

	return Normalize(raw)
}

// Normalize decodes raw image bytes, applies the EXIF orientation and
// re-encodes the result as a full quality JPEG. The EXIF capture time, when
// present, is carried over.
func Normalize(raw []byte) (session.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return session.Image{}, fmt.Errorf("imagery: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		return session.Image{}, fmt.Errorf("imagery: encode: %w", err)
	}

	out := session.Image{Data: buf.Bytes()}
	if t, ok := takenAt(raw); ok {
		out.TakenAt = &t
	}
	return out, nil
}

func takenAt(raw []byte) (time.Time, bool) {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return time.Time{}, false
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
