package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/pinphotos/internal/http/render"
	"github.com/Oxyrus/pinphotos/internal/imagery"
	"github.com/Oxyrus/pinphotos/internal/session"
	"github.com/Oxyrus/pinphotos/internal/storage"
	"github.com/Oxyrus/pinphotos/web/pages"
)

// Sessions hands out the photo session of a pin.
type Sessions interface {
	Open(ctx context.Context, at storage.Coordinate) (*session.Session, bool, error)
	Get(at storage.Coordinate) (*session.Session, bool)
}

// Downloads resolves pending photos in the background.
type Downloads interface {
	Start(t imagery.Target)
}

type PhotoHandler struct {
	logger    *slog.Logger
	sessions  Sessions
	downloads Downloads
}

func NewPhotoHandler(logger *slog.Logger, sessions Sessions, downloads Downloads) *PhotoHandler {
	return &PhotoHandler{
		logger:    logger,
		sessions:  sessions,
		downloads: downloads,
	}
}

type photoResponse struct {
	Index     int        `json:"index"`
	ID        string     `json:"id"`
	SourceURL string     `json:"sourceUrl"`
	ImageURL  string     `json:"imageUrl,omitempty"`
	HasImage  bool       `json:"hasImage"`
	Selected  bool       `json:"selected"`
	TakenAt   *time.Time `json:"takenAt,omitempty"`
}

type snapshotResponse struct {
	Generation    uint64          `json:"generation"`
	State         string          `json:"state"`
	Photos        []photoResponse `json:"photos"`
	CanRequest    bool            `json:"canRequest"`
	Empty         bool            `json:"empty"`
	Failed        bool            `json:"failed"`
	ActionLabel   string          `json:"actionLabel"`
	WriteFailures int             `json:"writeFailures"`
}

type deleteRequest struct {
	Indices []int `json:"indices" binding:"required"`
}

// Show opens the pin's session, starts any pending downloads and returns what
// the grid should display.
func (h *PhotoHandler) Show(c *gin.Context) {
	sess, ok := h.open(c)
	if !ok {
		return
	}
	h.downloads.Start(sess)
	h.respond(c, sess)
}

func (h *PhotoHandler) Refresh(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if !h.apply(c, sess, sess.Refresh(c.Request.Context())) {
		return
	}
	h.downloads.Start(sess)
	h.respond(c, sess)
}

// Action runs the grid's single button: delete the selection or fetch a new
// collection.
func (h *PhotoHandler) Action(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if !h.apply(c, sess, sess.PrimaryAction(c.Request.Context())) {
		return
	}
	h.downloads.Start(sess)
	h.respond(c, sess)
}

func (h *PhotoHandler) Delete(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "indices are required"})
		return
	}

	if !h.apply(c, sess, sess.DeleteIndices(c.Request.Context(), req.Indices)) {
		return
	}
	h.respond(c, sess)
}

func (h *PhotoHandler) Select(c *gin.Context) {
	h.selection(c, (*session.Session).ToggleSelect)
}

func (h *PhotoHandler) Deselect(c *gin.Context) {
	h.selection(c, (*session.Session).Deselect)
}

func (h *PhotoHandler) Image(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	data, ok := sess.Image(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not available"})
		return
	}

	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// View renders the grid as an HTML page.
func (h *PhotoHandler) View(c *gin.Context) {
	sess, ok := h.open(c)
	if !ok {
		return
	}
	h.downloads.Start(sess)
	render.HTML(c, http.StatusOK, pages.Grid(toGridPage(sess.Coordinate(), sess.Snapshot())))
}

func (h *PhotoHandler) ViewAction(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if !h.apply(c, sess, sess.PrimaryAction(c.Request.Context())) {
		return
	}
	h.downloads.Start(sess)
	c.Redirect(http.StatusSeeOther, "/pins/view?"+coordinateQuery(sess.Coordinate()))
}

func (h *PhotoHandler) ViewSelect(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid index")
		return
	}
	if !h.apply(c, sess, sess.ToggleSelect(index)) {
		return
	}
	c.Redirect(http.StatusSeeOther, "/pins/view?"+coordinateQuery(sess.Coordinate()))
}

func (h *PhotoHandler) selection(c *gin.Context, op func(*session.Session, int) error) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}

	if !h.apply(c, sess, op(sess, index)) {
		return
	}
	h.respond(c, sess)
}

func (h *PhotoHandler) open(c *gin.Context) (*session.Session, bool) {
	at, err := coordinateFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	sess, created, err := h.sessions.Open(c.Request.Context(), at)
	switch {
	case errors.Is(err, session.ErrNoPin):
		c.JSON(http.StatusNotFound, gin.H{"error": "no pin at this location"})
		return nil, false
	case sess == nil:
		h.logger.Error("failed to open pin photos", "latitude", at.Latitude, "longitude", at.Longitude, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open pin photos"})
		return nil, false
	case err != nil:
		// the session is still usable and reports the failure in its snapshot
		h.logger.Warn("pin photos did not load", "latitude", at.Latitude, "longitude", at.Longitude, "error", err)
	}
	if created {
		h.logger.Info("opened pin photos", "latitude", at.Latitude, "longitude", at.Longitude, "state", sess.State().String())
	}
	return sess, true
}

func (h *PhotoHandler) lookup(c *gin.Context) (*session.Session, bool) {
	at, err := coordinateFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	sess, ok := h.sessions.Get(at)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no photos open for this pin"})
		return nil, false
	}
	return sess, true
}

// apply maps a session error onto the response. It reports whether the
// handler should go on to write the snapshot.
func (h *PhotoHandler) apply(c *gin.Context, sess *session.Session, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrFetchFailed), errors.Is(err, session.ErrStale):
		// surfaced through the snapshot
		return true
	case errors.Is(err, session.ErrIndexOutOfRange):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("not allowed while %s", sess.State())})
	default:
		h.logger.Error("photo operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "photo operation failed"})
	}
	return false
}

func (h *PhotoHandler) respond(c *gin.Context, sess *session.Session) {
	c.JSON(http.StatusOK, toSnapshotResponse(sess.Coordinate(), sess.Snapshot()))
}

func toSnapshotResponse(at storage.Coordinate, snap session.Snapshot) snapshotResponse {
	query := coordinateQuery(at)

	photos := make([]photoResponse, 0, len(snap.Photos))
	for _, p := range snap.Photos {
		resp := photoResponse{
			Index:     p.Index,
			ID:        p.ID,
			SourceURL: p.URL,
			HasImage:  p.HasImage,
			Selected:  p.Selected,
			TakenAt:   p.TakenAt,
		}
		if p.HasImage {
			resp.ImageURL = imageURL(p.ID, query)
		}
		photos = append(photos, resp)
	}

	return snapshotResponse{
		Generation:    snap.Generation,
		State:         snap.State.String(),
		Photos:        photos,
		CanRequest:    snap.CanRequest,
		Empty:         snap.Empty,
		Failed:        snap.Failed,
		ActionLabel:   snap.ActionLabel,
		WriteFailures: snap.WriteFailures,
	}
}

func toGridPage(at storage.Coordinate, snap session.Snapshot) pages.GridPage {
	query := coordinateQuery(at)

	photos := make([]pages.GridPhoto, 0, len(snap.Photos))
	for _, p := range snap.Photos {
		photos = append(photos, pages.GridPhoto{
			Index:    p.Index,
			ImageURL: imageURL(p.ID, query),
			HasImage: p.HasImage,
			Selected: p.Selected,
		})
	}

	return pages.GridPage{
		Latitude:    strconv.FormatFloat(at.Latitude, 'f', -1, 64),
		Longitude:   strconv.FormatFloat(at.Longitude, 'f', -1, 64),
		Query:       query,
		Photos:      photos,
		ActionLabel: snap.ActionLabel,
		CanRequest:  snap.CanRequest,
		NoImages:    snap.Empty,
		Failed:      snap.Failed,
	}
}

func imageURL(id, query string) string {
	return "/pins/photos/" + url.PathEscape(id) + "/image?" + query
}
