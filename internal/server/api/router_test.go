package api

import (
	"bytes"
	"context"
	"errors"
	"html"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"kkerang/internal/server/config"
	"kkerang/internal/server/service"
	"kkerang/internal/server/service/servicetest"
	"kkerang/internal/server/session"
	"kkerang/internal/server/storage"

	"github.com/labstack/echo/v4"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type testApp struct {
	e    *echo.Echo
	repo *servicetest.MemoryRepository
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := &config.Config{
		MaxFileSize:    1 << 20,
		RecommendLimit: 8,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	repo := servicetest.NewMemoryRepository()
	store := storage.NewFileSystemStore(t.TempDir())
	sessions := session.NewManager("test-secret", time.Hour, false)

	handler := NewHandler(
		service.NewAccountService(repo),
		service.NewVideoService(repo, store, cfg.MaxFileSize, cfg.RecommendLimit),
		sessions,
		fakeHealth{},
	)
	return &testApp{e: SetupRouter(handler, sessions, cfg), repo: repo}
}

// browser keeps cookies between requests like a real client.
type browser struct {
	app     *testApp
	cookies map[string]*http.Cookie
}

func (a *testApp) newBrowser() *browser {
	return &browser{app: a, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.app.e.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return b.do(req)
}

func (b *browser) upload(t *testing.T, title, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("title", title)
	if filename != "" {
		part, err := w.CreateFormFile("video", filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte(content))
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return b.do(req)
}

func (b *browser) register(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	return b.postForm("/register", url.Values{"username": {username}, "password": {password}})
}

func (b *browser) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	return b.postForm("/login", url.Values{"username": {username}, "password": {password}})
}

func (b *browser) signedIn(t *testing.T, username string) *browser {
	t.Helper()
	b.register(t, username, "pw")
	if rec := b.login(t, username, "pw"); rec.Code != http.StatusSeeOther {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return b
}

func assertRedirect(t *testing.T, rec *httptest.ResponseRecorder, code int, location string) {
	t.Helper()
	if rec.Code != code || rec.Header().Get(echo.HeaderLocation) != location {
		t.Fatalf("expected %d redirect to %s, got %d %q (%s)",
			code, location, rec.Code, rec.Header().Get(echo.HeaderLocation), rec.Body.String())
	}
}

func TestRegister(t *testing.T) {
	t.Run("redirects to login and creates channel", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser()

		assertRedirect(t, b.register(t, "alice", "pw"), http.StatusSeeOther, "/login")

		channels := app.repo.Channels()
		if len(channels) != 1 || channels[0].Name != "alice 채널" {
			t.Errorf("expected one channel named 'alice 채널', got %+v", channels)
		}
	})

	t.Run("does not log the user in", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser()
		b.register(t, "alice", "pw")

		assertRedirect(t, b.get("/upload"), http.StatusFound, "/login")
	})

	t.Run("duplicate username shows message", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser()
		b.register(t, "alice", "pw")

		rec := b.register(t, "alice", "other")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "이미 존재하는 아이디") {
			t.Errorf("expected duplicate message, got %s", rec.Body.String())
		}
		if app.repo.UserCount() != 1 {
			t.Errorf("expected 1 user, got %d", app.repo.UserCount())
		}
	})

	t.Run("rejected input shows its cause", func(t *testing.T) {
		tests := []struct {
			name     string
			username string
			password string
			message  string
		}{
			{"missing fields", "", "", msgMissingFields},
			{"long username", strings.Repeat("가", 51), "pw", msgUsernameTooLong},
			{"long password", "alice", strings.Repeat("x", 73), msgPasswordTooLong},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				app := newTestApp(t)

				rec := app.newBrowser().register(t, tt.username, tt.password)
				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rec.Code)
				}
				if !strings.Contains(rec.Body.String(), tt.message) {
					t.Errorf("expected %q in page, got %s", tt.message, rec.Body.String())
				}
				if app.repo.UserCount() != 0 {
					t.Errorf("expected no users, got %d", app.repo.UserCount())
				}
			})
		}
	})

	t.Run("form renders", func(t *testing.T) {
		rec := newTestApp(t).newBrowser().get("/register")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `action="/register"`) {
			t.Errorf("expected register form, got %d", rec.Code)
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("wrong password shows message and keeps session anonymous", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser()
		b.register(t, "alice", "pw")

		rec := b.login(t, "alice", "wrong")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "로그인 실패") {
			t.Fatalf("expected login failure page, got %d %s", rec.Code, rec.Body.String())
		}
		assertRedirect(t, b.get("/upload"), http.StatusFound, "/login")
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := newTestApp(t).newBrowser().login(t, "nobody", "pw")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "로그인 실패") {
			t.Errorf("expected login failure page, got %d", rec.Code)
		}
	})

	t.Run("correct password allows upload", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser()
		b.register(t, "alice", "pw")

		assertRedirect(t, b.login(t, "alice", "pw"), http.StatusSeeOther, "/")
		assertRedirect(t, b.upload(t, "T1", "clip.mp4", "bytes"), http.StatusSeeOther, "/watch/1")
	})

	t.Run("logout ends session", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")

		assertRedirect(t, b.get("/logout"), http.StatusSeeOther, "/")
		assertRedirect(t, b.get("/upload"), http.StatusFound, "/login")
	})

	t.Run("logout requires login", func(t *testing.T) {
		assertRedirect(t, newTestApp(t).newBrowser().get("/logout"), http.StatusFound, "/login")
	})
}

func TestUpload(t *testing.T) {
	t.Run("new video is listed first with zero counters", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")

		b.upload(t, "older", "a.mp4", "a")
		assertRedirect(t, b.upload(t, "T1", "b.mp4", "b"), http.StatusSeeOther, "/watch/2")

		videos, _ := app.repo.ListVideos(context.Background())
		if len(videos) != 2 || videos[0].Title != "T1" {
			t.Fatalf("expected T1 first, got %+v", videos)
		}
		if videos[0].Views != 0 || videos[0].Likes != 0 {
			t.Errorf("expected zero counters, got %+v", videos[0])
		}

		body := b.get("/").Body.String()
		if strings.Index(body, "T1") > strings.Index(body, "older") {
			t.Error("expected T1 to be listed before older")
		}
	})

	t.Run("blank title uses default", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")
		b.upload(t, "", "clip.mp4", "x")

		video, _ := app.repo.GetVideo(context.Background(), 1)
		if video.Title != service.DefaultTitle {
			t.Errorf("expected default title, got %q", video.Title)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		b := newTestApp(t).newBrowser().signedIn(t, "alice")

		rec := b.upload(t, "T1", "", "")
		if rec.Code != http.StatusBadRequest || rec.Body.String() != "동영상 없음" {
			t.Errorf("expected 400 '동영상 없음', got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("file too large", func(t *testing.T) {
		b := newTestApp(t).newBrowser().signedIn(t, "alice")

		rec := b.upload(t, "big", "big.mp4", strings.Repeat("x", 2<<20))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("anonymous is redirected", func(t *testing.T) {
		app := newTestApp(t)

		assertRedirect(t, app.newBrowser().upload(t, "T1", "clip.mp4", "x"), http.StatusFound, "/login")
		if videos, _ := app.repo.ListVideos(context.Background()); len(videos) != 0 {
			t.Errorf("expected no videos, got %d", len(videos))
		}
	})
}

func TestWatch(t *testing.T) {
	t.Run("counts views once per session", func(t *testing.T) {
		app := newTestApp(t)
		uploader := app.newBrowser().signedIn(t, "alice")
		uploader.upload(t, "T1", "clip.mp4", "x")

		viewer := app.newBrowser()
		for i := 0; i < 2; i++ {
			if rec := viewer.get("/watch/1"); rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
		}
		video, _ := app.repo.GetVideo(context.Background(), 1)
		if video.Views != 1 {
			t.Errorf("expected 1 view from one session, got %d", video.Views)
		}

		app.newBrowser().get("/watch/1")
		video, _ = app.repo.GetVideo(context.Background(), 1)
		if video.Views != 2 {
			t.Errorf("expected 2 views from two sessions, got %d", video.Views)
		}
	})

	t.Run("login starts a new view session", func(t *testing.T) {
		app := newTestApp(t)
		app.newBrowser().signedIn(t, "alice").upload(t, "T1", "clip.mp4", "x")

		viewer := app.newBrowser()
		viewer.register(t, "bob", "pw")
		viewer.get("/watch/1")
		viewer.login(t, "bob", "pw")
		viewer.get("/watch/1")
		viewer.get("/watch/1")

		video, _ := app.repo.GetVideo(context.Background(), 1)
		if video.Views != 2 {
			t.Errorf("expected one view per session id, got %d", video.Views)
		}
	})

	t.Run("shows recommendations", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")
		b.upload(t, "current", "a.mp4", "a")
		b.upload(t, "other video", "b.mp4", "b")

		body := b.get("/watch/1").Body.String()
		if !strings.Contains(body, "other video") || !strings.Contains(body, "/video/") {
			t.Errorf("expected player and recommendation, got %s", body)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		b := newTestApp(t).newBrowser()

		for _, path := range []string{"/watch/99", "/watch/abc", "/watch/-1"} {
			if rec := b.get(path); rec.Code != http.StatusNotFound {
				t.Errorf("GET %s: expected 404, got %d", path, rec.Code)
			}
		}
	})
}

func TestLike(t *testing.T) {
	t.Run("same user likes once", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")
		b.upload(t, "T1", "clip.mp4", "x")

		assertRedirect(t, b.get("/like/1"), http.StatusSeeOther, "/watch/1")
		assertRedirect(t, b.postForm("/like/1", url.Values{}), http.StatusSeeOther, "/watch/1")

		video, _ := app.repo.GetVideo(context.Background(), 1)
		if video.Likes != 1 {
			t.Errorf("expected 1 like, got %d", video.Likes)
		}
		if app.repo.LikeCount() != 1 {
			t.Errorf("expected 1 like row, got %d", app.repo.LikeCount())
		}
	})

	t.Run("two users like twice", func(t *testing.T) {
		app := newTestApp(t)
		a := app.newBrowser().signedIn(t, "alice")
		a.upload(t, "T1", "clip.mp4", "x")
		a.get("/like/1")
		app.newBrowser().signedIn(t, "bob").get("/like/1")

		video, _ := app.repo.GetVideo(context.Background(), 1)
		if video.Likes != 2 {
			t.Errorf("expected 2 likes, got %d", video.Likes)
		}
	})

	t.Run("requires login", func(t *testing.T) {
		assertRedirect(t, newTestApp(t).newBrowser().get("/like/1"), http.StatusFound, "/login")
	})

	t.Run("unknown video", func(t *testing.T) {
		b := newTestApp(t).newBrowser().signedIn(t, "alice")

		if rec := b.get("/like/99"); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestStream(t *testing.T) {
	newUploaded := func(t *testing.T) (*testApp, *browser, string) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")
		b.upload(t, "T1", "clip.mp4", "0123456789")
		video, err := app.repo.GetVideo(context.Background(), 1)
		if err != nil {
			t.Fatalf("video missing: %v", err)
		}
		return app, b, video.Filename
	}

	t.Run("serves inline", func(t *testing.T) {
		app, _, filename := newUploaded(t)

		rec := app.newBrowser().get("/video/" + url.PathEscape(filename))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "0123456789" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
		if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.HasPrefix(cd, "inline") {
			t.Errorf("expected inline disposition, got %q", cd)
		}
		if ct := rec.Header().Get(echo.HeaderContentType); ct != "video/mp4" {
			t.Errorf("expected video/mp4, got %q", ct)
		}
	})

	t.Run("supports range requests", func(t *testing.T) {
		app, _, filename := newUploaded(t)

		req := httptest.NewRequest(http.MethodGet, "/video/"+url.PathEscape(filename), nil)
		req.Header.Set("Range", "bytes=2-4")
		rec := app.newBrowser().do(req)
		if rec.Code != http.StatusPartialContent || rec.Body.String() != "234" {
			t.Errorf("expected 206 '234', got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown filename", func(t *testing.T) {
		app, _, _ := newUploaded(t)

		if rec := app.newBrowser().get("/video/missing.mp4"); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

var playerSrc = regexp.MustCompile(`<video src="([^"]+)"`)

func TestWatchPlayerSource(t *testing.T) {
	tests := []struct {
		name     string
		filename string
	}{
		{"plain name", "clip.mp4"},
		{"hash", "a#b.mp4"},
		{"question mark", "q?x.mp4"},
		{"percent escape", "100%41.mp4"},
		{"space", "my clip.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			b := app.newBrowser().signedIn(t, "alice")
			b.upload(t, "T1", tt.filename, "0123456789")

			page := b.get("/watch/1")
			m := playerSrc.FindStringSubmatch(page.Body.String())
			if m == nil {
				t.Fatalf("no player in watch page: %s", page.Body.String())
			}

			// Resolve the attribute the way a browser does before requesting it.
			src, err := url.Parse(html.UnescapeString(m[1]))
			if err != nil {
				t.Fatalf("bad player src %q: %v", m[1], err)
			}
			rec := b.get(src.RequestURI())
			if rec.Code != http.StatusOK {
				t.Fatalf("GET %s: expected 200, got %d", src.RequestURI(), rec.Code)
			}
			if rec.Body.String() != "0123456789" {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestHealthAndStats(t *testing.T) {
	t.Run("health reports database status", func(t *testing.T) {
		app := newTestApp(t)
		rec := app.newBrowser().get("/health")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
			t.Errorf("expected healthy, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("health degraded", func(t *testing.T) {
		cfg := &config.Config{RateLimitRPS: 1, RateLimitBurst: 1}
		repo := servicetest.NewMemoryRepository()
		sessions := session.NewManager("s", time.Hour, false)
		handler := NewHandler(service.NewAccountService(repo),
			service.NewVideoService(repo, storage.NewFileSystemStore(t.TempDir()), 0, 8),
			sessions, fakeHealth{err: errors.New("down")})
		e := SetupRouter(handler, sessions, cfg)

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if !strings.Contains(rec.Body.String(), `"degraded"`) {
			t.Errorf("expected degraded, got %s", rec.Body.String())
		}
	})

	t.Run("stats counts rows", func(t *testing.T) {
		app := newTestApp(t)
		b := app.newBrowser().signedIn(t, "alice")
		b.upload(t, "T1", "clip.mp4", "x")
		b.get("/watch/1")
		b.get("/like/1")

		rec := b.get("/api/stats")
		body := rec.Body.String()
		for _, want := range []string{`"total_users":1`, `"total_videos":1`, `"total_views":1`, `"total_likes":1`} {
			if !strings.Contains(body, want) {
				t.Errorf("expected %s in %s", want, body)
			}
		}
	})
}

func TestMediaType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":  "video/mp4",
		"a.MP4":  "video/mp4",
		"a.webm": "video/webm",
		"a.mov":  "video/quicktime",
		"a":      echo.MIMEOctetStream,
	}
	for name, want := range tests {
		if got := mediaType(name); got != want {
			t.Errorf("mediaType(%q) = %q, want %q", name, got, want)
		}
	}
}
