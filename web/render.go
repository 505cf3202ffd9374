package web

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"todo-app/ui"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer renders the page templates for echo.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{tmpl: template.Must(template.ParseFS(templateFS, "templates/*.html"))}
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

type pageView struct {
	State ui.State
	Flash string
}

func (v pageView) Editing() bool { return v.State.Mode == ui.ModeEdit }

func (v pageView) Heading() string {
	if v.Editing() {
		return "Update Your Todo"
	}
	return "Create a Todo"
}

func (v pageView) SubmitLabel() string {
	if v.Editing() {
		return "Update Todo"
	}
	return "Create Todo"
}
