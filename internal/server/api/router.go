package api

import (
	"net/http"

	"kkerang/internal/server/config"
	"kkerang/internal/server/session"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, sessions *session.Manager, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Renderer = NewTemplateRenderer()

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(sessions.Middleware())
	e.Use(RequestLogger())

	// Rate limiter on form submissions only
	formLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware()
	requireLogin := session.RequireLogin()

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Listing
	e.GET("/", handler.HandleIndex)

	// Accounts
	e.GET("/register", handler.HandleRegisterForm)
	e.POST("/register", handler.HandleRegister, formLimiter)
	e.GET("/login", handler.HandleLoginForm)
	e.POST("/login", handler.HandleLogin, formLimiter)
	e.GET("/logout", handler.HandleLogout, requireLogin)

	// Upload (login required, rate-limited)
	e.GET("/upload", handler.HandleUploadForm, requireLogin)
	e.POST("/upload", handler.HandleUpload, requireLogin, formLimiter)

	// Watch, like, stream
	e.GET("/watch/:id", handler.HandleWatch)
	e.Match([]string{http.MethodGet, http.MethodPost}, "/like/:id", handler.HandleLike, requireLogin)
	e.GET("/video/:filename", handler.HandleStream)

	return e
}
