package api

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"pasties/pkg/domain"
	"pasties/svc/render"
	"pasties/svc/svc"
	"pasties/svc/util"
)

//go:embed web/templates/*.tmpl web/assets/*
var webFS embed.FS

var pageNames = []string{"editor.tmpl", "paste.tmpl", "info.tmpl"}

// Pages renders the HTML front end over the paste manager.
type Pages struct {
	paste *svc.Paste
	tmpl  map[string]*template.Template
	css   []byte
}

type pageData struct {
	Title   string
	Paste   *domain.PasteView
	Body    template.HTML
	Secret  string
	Updated bool

	// NewPassword is set after an update that changed the password.
	NewPassword string
	Deleted     bool
	Message     string
}

func NewPages(p *svc.Paste) (*Pages, error) {
	funcs := template.FuncMap{
		"date": func(ts int64) string {
			return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04 UTC")
		},
	}
	pg := &Pages{paste: p, tmpl: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(webFS, "web/templates/layout.tmpl", "web/templates/"+name)
		if err != nil {
			return nil, errors.Wrapf(err, "parse template %s", name)
		}
		pg.tmpl[name] = t
	}
	css, err := fs.ReadFile(webFS, "web/assets/style.css")
	if err != nil {
		return nil, errors.Wrap(err, "read stylesheet")
	}
	pg.css = css
	return pg, nil
}

func (pg *Pages) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := pg.tmpl[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		util.Error().Err(err).Str("template", name).Msg("template execution failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (pg *Pages) info(w http.ResponseWriter, _ *http.Request, status int, title, msg string) {
	pg.render(w, status, "info.tmpl", pageData{Title: title, Message: msg})
}

func (pg *Pages) Editor(w http.ResponseWriter, r *http.Request) {
	_, deleted := r.URL.Query()["deleted"]
	pg.render(w, http.StatusOK, "editor.tmpl", pageData{Deleted: deleted})
}

// Edit shows the editor prefilled with an existing paste.
func (pg *Pages) Edit(w http.ResponseWriter, r *http.Request) {
	v, err := pg.paste.Retrieve(r.Context(), chi.URLParam(r, "url"))
	if err != nil {
		logFailure(r, err)
		pg.info(w, r, domain.Status(err), "Error", publicMessage(err))
		return
	}
	pg.render(w, http.StatusOK, "editor.tmpl", pageData{Title: "Editing " + v.URL, Paste: v})
}

func (pg *Pages) View(w http.ResponseWriter, r *http.Request) {
	v, err := pg.paste.Retrieve(r.Context(), chi.URLParam(r, "url"))
	if err != nil {
		logFailure(r, err)
		pg.info(w, r, domain.Status(err), "Error", publicMessage(err))
		return
	}
	q := r.URL.Query()
	_, updated := q["updated"]
	pg.render(w, http.StatusOK, "paste.tmpl", pageData{
		Title:   v.URL,
		Paste:   v,
		Body:    template.HTML(render.Markdown(v.Content)),
		Secret:      q.Get("secret"),
		Updated:     updated,
		NewPassword: q.Get("updated"),
	})
}

func (pg *Pages) NotFound(w http.ResponseWriter, r *http.Request) {
	pg.info(w, r, http.StatusNotFound, "Error 404", "The requested resource could not be found")
}

func (pg *Pages) Stylesheet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(pg.css)
}

func reserved(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(msg))
	}
}
