package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/pinphotos/internal/http/handlers"
	"github.com/Oxyrus/pinphotos/internal/imagery"
	"github.com/Oxyrus/pinphotos/internal/session"
	"github.com/Oxyrus/pinphotos/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type snapshotBody struct {
	Generation  uint64 `json:"generation"`
	State       string `json:"state"`
	CanRequest  bool   `json:"canRequest"`
	Empty       bool   `json:"empty"`
	Failed      bool   `json:"failed"`
	ActionLabel string `json:"actionLabel"`
	Photos      []struct {
		Index     int        `json:"index"`
		ID        string     `json:"id"`
		SourceURL string     `json:"sourceUrl"`
		ImageURL  string     `json:"imageUrl"`
		HasImage  bool       `json:"hasImage"`
		Selected  bool       `json:"selected"`
		TakenAt   *time.Time `json:"takenAt"`
	} `json:"photos"`
}

func TestPhotoHandlerShowOpensSession(t *testing.T) {
	env := newPhotoEnv(t, page("https://img.example/a.jpg", "https://img.example/b.jpg"))

	rec, ctx := newContext(http.MethodGet, "/pins/photos?lat=12&lon=34", "")
	env.handler.Show(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeSnapshot(t, rec)
	if body.State != "ready" || len(body.Photos) != 2 {
		t.Fatalf("unexpected snapshot %+v", body)
	}
	if body.Photos[0].SourceURL != "https://img.example/a.jpg" || body.Photos[0].HasImage {
		t.Fatalf("unexpected first photo %+v", body.Photos[0])
	}
	if body.ActionLabel != "New Collection" || !body.CanRequest {
		t.Fatalf("unexpected action state %+v", body)
	}
	if env.downloads.starts != 1 {
		t.Fatalf("expected downloads to be started once, got %d", env.downloads.starts)
	}
}

func TestPhotoHandlerShowRejectsBadCoordinate(t *testing.T) {
	env := newPhotoEnv(t, page())

	for _, target := range []string{
		"/pins/photos?lat=12",
		"/pins/photos?lat=abc&lon=1",
		"/pins/photos?lat=91&lon=1",
		"/pins/photos?lat=1&lon=-181",
	} {
		rec, ctx := newContext(http.MethodGet, target, "")
		env.handler.Show(ctx)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for %s, got %d", target, rec.Code)
		}
	}
}

func TestPhotoHandlerShowWithoutPinKeepsNoSession(t *testing.T) {
	env := newPhotoEnv(t, func() ([]session.Descriptor, error) {
		t.Fatalf("remote source must not be called for a coordinate without a pin")
		return nil, nil
	})

	for i := range 3 {
		target := fmt.Sprintf("/pins/photos?lat=%d&lon=1", 50+i)
		rec, ctx := newContext(http.MethodGet, target, "")
		env.handler.Show(ctx)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404 for %s, got %d", target, rec.Code)
		}
		if _, ok := env.registry.Get(storage.Coordinate{Latitude: float64(50 + i), Longitude: 1}); ok {
			t.Fatalf("expected no session to be kept for %s", target)
		}
	}
	if env.downloads.starts != 0 {
		t.Fatalf("expected no downloads, got %d", env.downloads.starts)
	}
}

func TestPhotoHandlerShowReportsFetchFailure(t *testing.T) {
	env := newPhotoEnv(t, func() ([]session.Descriptor, error) {
		return nil, errors.New("flickr down")
	})

	rec, ctx := newContext(http.MethodGet, "/pins/photos?lat=12&lon=34", "")
	env.handler.Show(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeSnapshot(t, rec)
	if !body.Empty || !body.Failed {
		t.Fatalf("expected failed empty snapshot, got %+v", body)
	}
}

func TestPhotoHandlerRefreshRequiresOpenSession(t *testing.T) {
	env := newPhotoEnv(t, page("a"))

	rec, ctx := newContext(http.MethodPost, "/pins/photos/refresh?lat=12&lon=34", "")
	env.handler.Refresh(ctx)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestPhotoHandlerRefreshReplacesPhotos(t *testing.T) {
	calls := 0
	env := newPhotoEnv(t, func() ([]session.Descriptor, error) {
		calls++
		if calls == 1 {
			return []session.Descriptor{{URL: "first"}}, nil
		}
		return []session.Descriptor{{URL: "second-0"}, {URL: "second-1"}}, nil
	})
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/photos/refresh?lat=12&lon=34", "")
	env.handler.Refresh(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeSnapshot(t, rec)
	if body.Generation != 2 || len(body.Photos) != 2 || body.Photos[0].SourceURL != "second-0" {
		t.Fatalf("unexpected snapshot %+v", body)
	}
	// env.open bypasses the handler, so only the refresh starts downloads.
	if env.downloads.starts != 1 {
		t.Fatalf("expected downloads to start after refresh, got %d", env.downloads.starts)
	}
}

func TestPhotoHandlerDeleteOutOfRange(t *testing.T) {
	env := newPhotoEnv(t, page("a", "b", "c"))
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/photos/delete?lat=12&lon=34", `{"indices":[0,3]}`)
	env.handler.Delete(ctx)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	sess, _ := env.registry.Get(testCoordinate)
	if n := len(sess.Snapshot().Photos); n != 3 {
		t.Fatalf("expected working set to be unchanged, got %d photos", n)
	}
}

func TestPhotoHandlerDeleteIndices(t *testing.T) {
	env := newPhotoEnv(t, page("a", "b", "c"))
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/photos/delete?lat=12&lon=34", `{"indices":[2,0]}`)
	env.handler.Delete(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeSnapshot(t, rec)
	if len(body.Photos) != 1 || body.Photos[0].SourceURL != "b" || body.Photos[0].Index != 0 {
		t.Fatalf("unexpected snapshot %+v", body.Photos)
	}
}

func TestPhotoHandlerDeleteRequiresBody(t *testing.T) {
	env := newPhotoEnv(t, page("a"))
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/photos/delete?lat=12&lon=34", `{}`)
	env.handler.Delete(ctx)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestPhotoHandlerSelectionAndAction(t *testing.T) {
	env := newPhotoEnv(t, page("a", "b"))
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/photos/selection/1?lat=12&lon=34", "")
	ctx.Params = gin.Params{{Key: "index", Value: "1"}}
	env.handler.Select(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeSnapshot(t, rec)
	if !body.Photos[1].Selected || body.ActionLabel != "Delete selected pictures" {
		t.Fatalf("expected photo 1 to be selected, got %+v", body)
	}

	rec, ctx = newContext(http.MethodPost, "/pins/photos/action?lat=12&lon=34", "")
	env.handler.Action(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body = decodeSnapshot(t, rec)
	if len(body.Photos) != 1 || body.Photos[0].SourceURL != "a" || body.ActionLabel != "New Collection" {
		t.Fatalf("expected selected photo to be deleted, got %+v", body)
	}
}

func TestPhotoHandlerSelectOutOfRange(t *testing.T) {
	env := newPhotoEnv(t, page("a"))
	env.open(t)

	rec, ctx := newContext(http.MethodDelete, "/pins/photos/selection/5?lat=12&lon=34", "")
	ctx.Params = gin.Params{{Key: "index", Value: "5"}}
	env.handler.Deselect(ctx)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestPhotoHandlerDeleteWhileEmptyConflicts(t *testing.T) {
	env := newPhotoEnv(t, page())
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/photos/delete?lat=12&lon=34", `{"indices":[0]}`)
	env.handler.Delete(ctx)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestPhotoHandlerImage(t *testing.T) {
	env := newPhotoEnv(t, page("a"))
	sess := env.open(t)

	ticket := sess.PendingDownloads()[0]

	rec, ctx := newContext(http.MethodGet, "/pins/photos/x/image?lat=12&lon=34", "")
	ctx.Params = gin.Params{{Key: "id", Value: ticket.PhotoID}}
	env.handler.Image(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 before download, got %d", rec.Code)
	}

	if err := sess.RecordDownloaded(context.Background(), ticket, session.Image{Data: []byte{0xff, 0xd8, 0xff, 0xe0}}); err != nil {
		t.Fatalf("RecordDownloaded returned error: %v", err)
	}

	rec, ctx = newContext(http.MethodGet, "/pins/photos/x/image?lat=12&lon=34", "")
	ctx.Params = gin.Params{{Key: "id", Value: ticket.PhotoID}}
	env.handler.Image(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", ct)
	}
}

func TestPhotoHandlerShowIncludesCaptureTime(t *testing.T) {
	env := newPhotoEnv(t, page("a", "b"))
	sess := env.open(t)

	takenAt := time.Date(2019, 6, 1, 14, 30, 0, 0, time.UTC)
	ticket := sess.PendingDownloads()[0]
	if err := sess.RecordDownloaded(context.Background(), ticket, session.Image{Data: []byte{0xff, 0xd8}, TakenAt: &takenAt}); err != nil {
		t.Fatalf("RecordDownloaded returned error: %v", err)
	}

	rec, ctx := newContext(http.MethodGet, "/pins/photos?lat=12&lon=34", "")
	env.handler.Show(ctx)

	body := decodeSnapshot(t, rec)
	if body.Photos[0].TakenAt == nil || !body.Photos[0].TakenAt.Equal(takenAt) {
		t.Fatalf("expected capture time %v, got %v", takenAt, body.Photos[0].TakenAt)
	}
	if body.Photos[1].TakenAt != nil {
		t.Fatalf("expected no capture time for an unresolved photo")
	}
}

func TestPhotoHandlerViewRendersGrid(t *testing.T) {
	env := newPhotoEnv(t, page())

	rec, ctx := newContext(http.MethodGet, "/pins/view?lat=12&lon=34", "")
	env.handler.View(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "No images found.") || !strings.Contains(body, "New Collection") {
		t.Fatalf("unexpected page: %s", body)
	}
}

func TestPhotoHandlerViewSelectRedirects(t *testing.T) {
	env := newPhotoEnv(t, page("a"))
	env.open(t)

	rec, ctx := newContext(http.MethodPost, "/pins/view/selection/0?lat=12&lon=34", "")
	ctx.Params = gin.Params{{Key: "index", Value: "0"}}
	env.handler.ViewSelect(ctx)
	ctx.Writer.WriteHeaderNow()

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "/pins/view?lat=12&lon=34" {
		t.Fatalf("unexpected redirect %q", location)
	}
}

func TestPinHandlerCreate(t *testing.T) {
	pins := newStubPins()
	closer := &stubCloser{}
	handler := handlers.NewPinHandler(newTestLogger(), pins, closer)

	rec, ctx := newContext(http.MethodPost, "/pins", `{"latitude": 12, "longitude": 34}`)
	handler.Create(ctx)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(closer.closed) != 1 || closer.closed[0] != testCoordinate {
		t.Fatalf("expected any session at the new pin to be dropped, got %v", closer.closed)
	}

	rec, ctx = newContext(http.MethodPost, "/pins", `{"latitude": 12, "longitude": 34}`)
	handler.Create(ctx)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}

	rec, ctx = newContext(http.MethodPost, "/pins", `{"latitude": 12}`)
	handler.Create(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	rec, ctx = newContext(http.MethodPost, "/pins", `{"latitude": 120, "longitude": 0}`)
	handler.Create(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for out of range latitude, got %d", rec.Code)
	}
}

func TestPinHandlerListError(t *testing.T) {
	pins := newStubPins()
	pins.listErr = errors.New("boom")
	handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})

	rec, ctx := newContext(http.MethodGet, "/pins", "")
	handler.List(ctx)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestPinHandlerDeleteClosesSession(t *testing.T) {
	pins := newStubPins()
	pin, _ := pins.Create(context.Background(), testCoordinate)
	closer := &stubCloser{}
	handler := handlers.NewPinHandler(newTestLogger(), pins, closer)

	rec, ctx := newContext(http.MethodDelete, "/pins/1", "")
	ctx.Params = gin.Params{{Key: "id", Value: "1"}}
	handler.Delete(ctx)
	ctx.Writer.WriteHeaderNow()

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if len(closer.closed) != 1 || closer.closed[0] != pin.Coordinate {
		t.Fatalf("expected session for pin to be closed, got %v", closer.closed)
	}

	rec, ctx = newContext(http.MethodDelete, "/pins/1", "")
	ctx.Params = gin.Params{{Key: "id", Value: "1"}}
	handler.Delete(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec, ctx := newContext(http.MethodGet, "/healthz", "")
	handlers.Health(pingFunc(func(context.Context) error { return nil }))(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec, ctx = newContext(http.MethodGet, "/healthz", "")
	handlers.Health(pingFunc(func(context.Context) error { return errors.New("closed") }))(ctx)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

var testCoordinate = storage.Coordinate{Latitude: 12, Longitude: 34}

type photoEnv struct {
	handler   *handlers.PhotoHandler
	registry  *session.Registry
	downloads *stubDownloads
}

func newPhotoEnv(t *testing.T, fetch func() ([]session.Descriptor, error)) *photoEnv {
	t.Helper()
	pins := newStubPins()
	if _, err := pins.Create(context.Background(), testCoordinate); err != nil {
		t.Fatalf("create pin: %v", err)
	}
	registry := session.NewRegistry(newTestLogger(), pins, newStubPhotos(), sourceFunc(fetch))
	downloads := &stubDownloads{}
	return &photoEnv{
		handler:   handlers.NewPhotoHandler(newTestLogger(), registry, downloads),
		registry:  registry,
		downloads: downloads,
	}
}

func (e *photoEnv) open(t *testing.T) *session.Session {
	t.Helper()
	sess, _, err := e.registry.Open(context.Background(), testCoordinate)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return sess
}

func page(urls ...string) func() ([]session.Descriptor, error) {
	return func() ([]session.Descriptor, error) {
		out := make([]session.Descriptor, 0, len(urls))
		for _, u := range urls {
			out = append(out, session.Descriptor{URL: u})
		}
		return out, nil
	}
}

func newContext(method, target, body string) (*httptest.ResponseRecorder, *gin.Context) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx.Request = req
	return rec, ctx
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) snapshotBody {
	t.Helper()
	var body snapshotBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, rec.Body.String())
	}
	return body
}

type sourceFunc func() ([]session.Descriptor, error)

func (f sourceFunc) FetchPage(context.Context, storage.Coordinate) ([]session.Descriptor, error) {
	return f()
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type stubDownloads struct {
	starts int
}

func (s *stubDownloads) Start(imagery.Target) {
	s.starts++
}

type stubCloser struct {
	closed []storage.Coordinate
}

func (s *stubCloser) Close(at storage.Coordinate) {
	s.closed = append(s.closed, at)
}

type stubPins struct {
	byID    map[int64]storage.Pin
	nextID  int64
	listErr error
}

func newStubPins() *stubPins {
	return &stubPins{byID: make(map[int64]storage.Pin)}
}

func (s *stubPins) Create(_ context.Context, at storage.Coordinate) (storage.Pin, error) {
	for _, pin := range s.byID {
		if pin.Coordinate == at {
			return storage.Pin{}, storage.ErrConflict
		}
	}
	s.nextID++
	pin := storage.Pin{ID: s.nextID, Coordinate: at, CreatedAt: time.Now().UTC()}
	s.byID[pin.ID] = pin
	return pin, nil
}

func (s *stubPins) Find(_ context.Context, at storage.Coordinate) (storage.Pin, error) {
	for _, pin := range s.byID {
		if pin.Coordinate == at {
			return pin, nil
		}
	}
	return storage.Pin{}, storage.ErrNotFound
}

func (s *stubPins) GetByID(_ context.Context, id int64) (storage.Pin, error) {
	if pin, ok := s.byID[id]; ok {
		return pin, nil
	}
	return storage.Pin{}, storage.ErrNotFound
}

func (s *stubPins) List(context.Context) ([]storage.Pin, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var pins []storage.Pin
	for _, pin := range s.byID {
		pins = append(pins, pin)
	}
	return pins, nil
}

func (s *stubPins) Delete(_ context.Context, id int64) error {
	if _, ok := s.byID[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

type stubPhotos struct {
	records map[int64][]storage.SavedPhoto
}

func newStubPhotos() *stubPhotos {
	return &stubPhotos{records: make(map[int64][]storage.SavedPhoto)}
}

func (s *stubPhotos) Count(_ context.Context, pinID int64) (int, error) {
	return len(s.records[pinID]), nil
}

func (s *stubPhotos) ListByPin(_ context.Context, pinID int64) ([]storage.SavedPhoto, error) {
	return s.records[pinID], nil
}

func (s *stubPhotos) Add(_ context.Context, input storage.PhotoCreate) (storage.SavedPhoto, error) {
	photo := storage.SavedPhoto{ID: input.ID, PinID: input.PinID, ImageData: input.ImageData, SourceURL: input.SourceURL}
	s.records[input.PinID] = append(s.records[input.PinID], photo)
	return photo, nil
}

func (s *stubPhotos) Remove(_ context.Context, pinID int64, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []storage.SavedPhoto
	for _, r := range s.records[pinID] {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	s.records[pinID] = kept
	return nil
}

func (s *stubPhotos) RemoveAll(_ context.Context, pinID int64) error {
	delete(s.records, pinID)
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
