package api

import (
	"embed"
	"html/template"
	"io"
	"net/url"

	"kkerang/internal/server/database"
	"kkerang/internal/server/session"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page is the data every template receives.
type Page struct {
	Title           string
	Error           string
	Session         *session.Session
	Videos          []*database.Video
	Video           *database.Video
	Recommendations []*database.Video
}

// TemplateRenderer renders the embedded HTML templates.
type TemplateRenderer struct {
	templates *template.Template
}

// templateFuncs are available to every page. Storage keys keep characters
// such as '#', '?' and '%', so media URLs must path-escape them.
var templateFuncs = template.FuncMap{
	"pathEscape": url.PathEscape,
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		templates: template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")),
	}
}

// Render implements echo.Renderer.
func (r *TemplateRenderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	if page, ok := data.(*Page); ok && page.Session == nil {
		page.Session = session.From(c)
	}
	return r.templates.ExecuteTemplate(w, name, data)
}
