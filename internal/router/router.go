package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/pinphotos/internal/config"
	"github.com/Oxyrus/pinphotos/internal/http/handlers"
	"github.com/Oxyrus/pinphotos/internal/http/middleware"
	"github.com/Oxyrus/pinphotos/internal/session"
	"github.com/Oxyrus/pinphotos/internal/storage"
)

func New(cfg *config.Config, logger *slog.Logger, store storage.Store, sessions *session.Registry, downloads handlers.Downloads) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logging(logger))

	pinHandler := handlers.NewPinHandler(logger, store.Pins(), sessions)
	photoHandler := handlers.NewPhotoHandler(logger, sessions, downloads)

	r.GET("/healthz", handlers.Health(store))

	r.GET("/pins", pinHandler.List)
	r.GET("/pins/photos", photoHandler.Show)
	r.GET("/pins/photos/:id/image", photoHandler.Image)
	r.GET("/pins/view", photoHandler.View)

	protected := r.Group("/")
	protected.Use(middleware.RequireToken(cfg.APIToken))
	protected.POST("/pins", pinHandler.Create)
	protected.DELETE("/pins/:id", pinHandler.Delete)
	protected.POST("/pins/photos/refresh", photoHandler.Refresh)
	protected.POST("/pins/photos/action", photoHandler.Action)
	protected.POST("/pins/photos/delete", photoHandler.Delete)
	protected.POST("/pins/photos/selection/:index", photoHandler.Select)
	protected.DELETE("/pins/photos/selection/:index", photoHandler.Deselect)
	protected.POST("/pins/view/action", photoHandler.ViewAction)
	protected.POST("/pins/view/selection/:index", photoHandler.ViewSelect)

	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "not found")
	})

	return r
}
