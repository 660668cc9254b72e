package imagery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Oxyrus/pinphotos/internal/session"
)

// Target is the session side of a download: where tickets come from and where
// results go.
type Target interface {
	PendingDownloads() []session.Ticket
	RecordDownloaded(ctx context.Context, t session.Ticket, img session.Image) error
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (session.Image, error)
}

// Downloader resolves pending tickets with a bounded number of concurrent
// fetches. A ticket already being fetched is not fetched twice.
type Downloader struct {
	ctx     context.Context
	logger  *slog.Logger
	fetcher ImageFetcher
	workers int

	mu       sync.Mutex
	inflight map[session.Ticket]struct{}
	wg       sync.WaitGroup
}

// NewDownloader returns a Downloader whose background runs stop when ctx is
// cancelled.
func NewDownloader(ctx context.Context, logger *slog.Logger, fetcher ImageFetcher, workers int) *Downloader {
	if workers <= 0 {
		workers = 1
	}
	return &Downloader{
		ctx:      ctx,
		logger:   logger,
		fetcher:  fetcher,
		workers:  workers,
		inflight: make(map[session.Ticket]struct{}),
	}
}

// Start resolves the target's pending downloads in the background.
func (d *Downloader) Start(t Target) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(d.ctx, t)
	}()
}

// Wait blocks until every run started with Start has finished.
func (d *Downloader) Wait() {
	d.wg.Wait()
}

// Run fetches every pending ticket of t and records the results. Failed
// downloads are logged and leave their entry as a placeholder.
func (d *Downloader) Run(ctx context.Context, t Target) {
	tickets := d.claim(t.PendingDownloads())
	if len(tickets) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(d.workers)

	for _, ticket := range tickets {
		g.Go(func() error {
			defer d.release(ticket)
			d.download(ctx, t, ticket)
			return nil
		})
	}

	_ = g.Wait()
}

func (d *Downloader) download(ctx context.Context, t Target, ticket session.Ticket) {
	log := d.logger.With("photoID", ticket.PhotoID, "generation", ticket.Generation)

	img, err := d.fetcher.Fetch(ctx, ticket.URL)
	if err != nil {
		log.Warn("failed to download photo", "url", ticket.URL, "error", err)
		return
	}

	err = t.RecordDownloaded(ctx, ticket, img)
	switch {
	case err == nil:
		log.Debug("photo downloaded", "bytes", len(img.Data))
	case errors.Is(err, session.ErrStale):
		log.Debug("discarded stale download")
	default:
		log.Error("failed to record photo", "error", err)
	}
}

func (d *Downloader) claim(tickets []session.Ticket) []session.Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()

	claimed := tickets[:0]
	for _, t := range tickets {
		if _, busy := d.inflight[t]; busy {
			continue
		}
		d.inflight[t] = struct{}{}
		claimed = append(claimed, t)
	}
	return claimed
}

func (d *Downloader) release(t session.Ticket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, t)
}
