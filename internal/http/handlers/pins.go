package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/pinphotos/internal/storage"
)

// SessionCloser forgets the photo session at a coordinate.
type SessionCloser interface {
	Close(at storage.Coordinate)
}

type PinHandler struct {
	logger   *slog.Logger
	pins     storage.Pins
	sessions SessionCloser
}

func NewPinHandler(logger *slog.Logger, pins storage.Pins, sessions SessionCloser) *PinHandler {
	return &PinHandler{
		logger:   logger,
		pins:     pins,
		sessions: sessions,
	}
}

type pinRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type pinResponse struct {
	ID        int64     `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"createdAt"`
}

func toPinResponse(pin storage.Pin) pinResponse {
	return pinResponse{
		ID:        pin.ID,
		Latitude:  pin.Coordinate.Latitude,
		Longitude: pin.Coordinate.Longitude,
		CreatedAt: pin.CreatedAt,
	}
}

func (h *PinHandler) List(c *gin.Context) {
	pins, err := h.pins.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list pins", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pins"})
		return
	}

	items := make([]pinResponse, 0, len(pins))
	for _, pin := range pins {
		items = append(items, toPinResponse(pin))
	}

	c.JSON(http.StatusOK, items)
}

func (h *PinHandler) Create(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude are required"})
		return
	}

	at := storage.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := validateCoordinate(at); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pin, err := h.pins.Create(c.Request.Context(), at)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "a pin already exists at that location"})
			return
		}
		h.logger.Error("failed to create pin", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pin"})
		return
	}

	// drop any stale session so the next open sees the new pin
	h.sessions.Close(pin.Coordinate)
	h.logger.Info("pin created", "pinID", pin.ID)
	c.JSON(http.StatusCreated, toPinResponse(pin))
}

func (h *PinHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pin not found"})
		return
	}

	pin, err := h.pins.GetByID(ctx, id)
	if err == nil {
		err = h.pins.Delete(ctx, id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pin not found"})
			return
		}
		h.logger.Error("failed to delete pin", "pinID", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete pin"})
		return
	}

	h.sessions.Close(pin.Coordinate)
	h.logger.Info("pin deleted", "pinID", id)
	c.Status(http.StatusNoContent)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Health(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
