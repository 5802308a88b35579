package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"kkerang/internal/server/service"
	"kkerang/internal/server/session"

	"github.com/labstack/echo/v4"
)

// User-facing messages.
const (
	msgUsernameTaken   = "이미 존재하는 아이디"
	msgLoginFailed     = "로그인 실패"
	msgMissingFields   = "아이디와 비밀번호를 입력하세요"
	msgUsernameTooLong = "아이디는 50자 이하로 입력하세요"
	msgPasswordTooLong = "비밀번호가 너무 깁니다"
	msgMissingVideo    = "동영상 없음"
	msgFileTooLarge    = "파일이 너무 큽니다"
	msgNotFound        = "찾을 수 없습니다"
	msgInternalError   = "서버 오류"
	msgBadRequest      = "잘못된 요청"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the site.
type Handler struct {
	accounts *service.AccountService
	videos   *service.VideoService
	sessions *session.Manager
	health   HealthChecker
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(accounts *service.AccountService, videos *service.VideoService, sessions *session.Manager, health HealthChecker) *Handler {
	return &Handler{
		accounts: accounts,
		videos:   videos,
		sessions: sessions,
		health:   health,
	}
}

// HandleIndex handles GET /.
// Lists every video, most recent first.
func (h *Handler) HandleIndex(c echo.Context) error {
	videos, err := h.videos.List(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.Render(http.StatusOK, "index", &Page{Videos: videos})
}

// HandleRegisterForm handles GET /register.
func (h *Handler) HandleRegisterForm(c echo.Context) error {
	return c.Render(http.StatusOK, "register", &Page{Title: "회원가입"})
}

// HandleRegister handles POST /register.
// The new user must log in separately afterwards.
func (h *Handler) HandleRegister(c echo.Context) error {
	_, err := h.accounts.Register(c.Request().Context(), c.FormValue("username"), c.FormValue("password"))
	switch {
	case err == nil:
		return c.Redirect(http.StatusSeeOther, "/login")
	case errors.Is(err, service.ErrUsernameTaken):
		return c.Render(http.StatusOK, "register", &Page{Title: "회원가입", Error: msgUsernameTaken})
	case errors.Is(err, service.ErrInvalidInput):
		return c.Render(http.StatusBadRequest, "register", &Page{Title: "회원가입", Error: registerErrorMessage(err)})
	default:
		return mapServiceError(c, err)
	}
}

// registerErrorMessage picks the form message for a rejected registration.
func registerErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrUsernameTooLong):
		return msgUsernameTooLong
	case errors.Is(err, service.ErrPasswordTooLong):
		return msgPasswordTooLong
	case errors.Is(err, service.ErrMissingCredentials):
		return msgMissingFields
	default:
		return msgBadRequest
	}
}

// HandleLoginForm handles GET /login.
func (h *Handler) HandleLoginForm(c echo.Context) error {
	return c.Render(http.StatusOK, "login", &Page{Title: "로그인"})
}

// HandleLogin handles POST /login.
func (h *Handler) HandleLogin(c echo.Context) error {
	user, err := h.accounts.Authenticate(c.Request().Context(), c.FormValue("username"), c.FormValue("password"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return c.Render(http.StatusOK, "login", &Page{Title: "로그인", Error: msgLoginFailed})
		}
		return mapServiceError(c, err)
	}

	if err := h.sessions.Login(c, user.ID, user.Username); err != nil {
		return mapServiceError(c, err)
	}
	slog.Info("user logged in", "user_id", user.ID)
	return c.Redirect(http.StatusSeeOther, "/")
}

// HandleLogout handles GET /logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	if err := h.sessions.Logout(c); err != nil {
		return mapServiceError(c, err)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// HandleUploadForm handles GET /upload.
func (h *Handler) HandleUploadForm(c echo.Context) error {
	return c.Render(http.StatusOK, "upload", &Page{Title: "업로드"})
}

// HandleUpload handles POST /upload.
// Accepts a multipart form with a "video" file field and an optional "title".
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("video")
	if err != nil || fileHeader.Filename == "" {
		return c.String(http.StatusBadRequest, msgMissingVideo)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.String(http.StatusInternalServerError, msgInternalError)
	}
	defer src.Close()

	video, err := h.videos.Upload(c.Request().Context(), service.UploadInput{
		UserID:   session.From(c).UserID,
		Title:    c.FormValue("title"),
		Filename: fileHeader.Filename,
		Data:     src,
		Size:     fileHeader.Size,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.Redirect(http.StatusSeeOther, fmt.Sprintf("/watch/%d", video.ID))
}

// HandleWatch handles GET /watch/:id.
// Counts the view once per browser session.
func (h *Handler) HandleWatch(c echo.Context) error {
	id, err := videoID(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	result, err := h.videos.Watch(c.Request().Context(), session.From(c).ID, id)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.Render(http.StatusOK, "watch", &Page{
		Title:           result.Video.Title,
		Video:           result.Video,
		Recommendations: result.Recommendations,
	})
}

// HandleLike handles GET and POST /like/:id.
// Repeat likes are accepted and ignored.
func (h *Handler) HandleLike(c echo.Context) error {
	id, err := videoID(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	if _, err := h.videos.Like(c.Request().Context(), session.From(c).UserID, id); err != nil {
		return mapServiceError(c, err)
	}

	return c.Redirect(http.StatusSeeOther, fmt.Sprintf("/watch/%d", id))
}

// HandleStream handles GET /video/:filename.
// Serves the media inline. Only filenames recorded on a video are served.
func (h *Handler) HandleStream(c echo.Context) error {
	filename := c.Param("filename")
	// Echo matches on the raw path when it has escapes the decoded path cannot express.
	if c.Request().URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(filename); err == nil {
			filename = unescaped
		}
	}

	obj, video, err := h.videos.OpenMedia(c.Request().Context(), filename)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer obj.Body.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": video.Filename}))
	res.Header().Set(echo.HeaderXContentTypeOptions, "nosniff")
	res.Header().Set(echo.HeaderContentType, mediaType(video.Filename))

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(res, c.Request(), video.Filename, obj.ModTime, rs)
		return nil
	}

	if obj.Size > 0 {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	}
	return c.Stream(http.StatusOK, mediaType(video.Filename), obj.Body)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate site statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.videos.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_users":    stats.TotalUsers,
		"total_channels": stats.TotalChannels,
		"total_videos":   stats.TotalVideos,
		"total_views":    stats.TotalViews,
		"total_likes":    stats.TotalLikes,
	})
}

// mapServiceError translates service-layer errors into plain-text HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.String(http.StatusNotFound, msgNotFound)
	case errors.Is(err, service.ErrMissingFile):
		return c.String(http.StatusBadRequest, msgMissingVideo)
	case errors.Is(err, service.ErrFileTooLarge):
		return c.String(http.StatusRequestEntityTooLarge, msgFileTooLarge)
	case errors.Is(err, service.ErrInvalidInput):
		return c.String(http.StatusBadRequest, msgBadRequest)
	default:
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
		return c.String(http.StatusInternalServerError, msgInternalError)
	}
}

// videoID parses the :id path parameter. Malformed ids are not found.
func videoID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, service.ErrNotFound
	}
	return id, nil
}

// mediaType guesses the Content-Type of a stored video from its extension.
func mediaType(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return echo.MIMEOctetStream
}
