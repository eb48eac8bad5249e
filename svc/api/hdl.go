package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"

	"pasties/pkg/domain"
	"pasties/svc/render"
	"pasties/svc/svc"
	"pasties/svc/util"
)

// Form bodies are percent-encoded, so leave room above the content limit.
const maxRequestSize = 4 * domain.MaxContentLength

type Hdl struct {
	paste *svc.Paste
	pages *Pages
}

// pasteForm is the union of the create, update and delete bodies.
type pasteForm struct {
	URL         string `json:"url"`
	Password    string `json:"password"`
	Content     string `json:"content"`
	NewURL      string `json:"new_url"`
	NewPassword string `json:"new_password"`
}

type statusResp struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// plainForm is a browser form post without htmx; it gets redirects and HTML errors.
func plainForm(r *http.Request) bool {
	return !isJSON(r) && !isHTMX(r) && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// decodeForm reads a JSON or urlencoded body. net/http only parses form
// bodies for POST, PUT and PATCH, so the body is parsed here for every method.
func decodeForm(w http.ResponseWriter, r *http.Request) (pasteForm, error) {
	var f pasteForm
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	if isJSON(r) {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return f, errors.Wrap(err, "decode json body")
		}
		return f, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return f, errors.Wrap(err, "read body")
	}
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return f, errors.Wrap(err, "parse form body")
	}
	f.URL = vals.Get("url")
	f.Password = vals.Get("password")
	f.Content = vals.Get("content")
	f.NewURL = vals.Get("new_url")
	f.NewPassword = vals.Get("new_password")
	return f, nil
}

func (h *Hdl) Create(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	f, err := decodeForm(w, r)
	if err != nil {
		log.Warn().Err(err).Msg("invalid create request")
		h.fail(w, r, domain.ErrInvalidRequest)
		return
	}
	created, err := h.paste.Create(r.Context(), domain.NewPaste{URL: f.URL, Content: f.Content, Password: f.Password})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	location := "/" + created.URL + "?secret=" + url.QueryEscape(created.Password)
	h.done(w, r, http.StatusCreated, location, created)
}

func (h *Hdl) Update(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	f, err := decodeForm(w, r)
	if err != nil {
		log.Warn().Err(err).Msg("invalid update request")
		h.fail(w, r, domain.ErrInvalidRequest)
		return
	}
	err = h.paste.Update(r.Context(),
		domain.Credentials{URL: f.URL, Password: f.Password},
		domain.NewPaste{URL: f.NewURL, Content: f.Content, Password: f.NewPassword},
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	effective := f.URL
	if f.NewURL != "" {
		effective = f.NewURL
	}
	location := "/" + effective + "?updated=" + url.QueryEscape(f.NewPassword)
	h.done(w, r, http.StatusOK, location, statusResp{Status: "updated", URL: effective})
}

func (h *Hdl) Delete(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	f, err := decodeForm(w, r)
	if err != nil {
		log.Warn().Err(err).Msg("invalid delete request")
		h.fail(w, r, domain.ErrInvalidRequest)
		return
	}
	if err := h.paste.Delete(r.Context(), domain.Credentials{URL: f.URL, Password: f.Password}); err != nil {
		h.fail(w, r, err)
		return
	}
	h.done(w, r, http.StatusOK, "/?deleted", statusResp{Status: "deleted"})
}

func (h *Hdl) View(w http.ResponseWriter, r *http.Request) {
	v, err := h.paste.Retrieve(r.Context(), chi.URLParam(r, "url"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Hdl) QR(w http.ResponseWriter, r *http.Request) {
	v, err := h.paste.Retrieve(r.Context(), chi.URLParam(r, "url"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	png, err := qrcode.Encode(pageURL(r, v.URL), qrcode.Medium, 256)
	if err != nil {
		writeErr(w, r, errors.Wrap(err, "encode qr"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *Hdl) Render(w http.ResponseWriter, r *http.Request) {
	f, err := decodeForm(w, r)
	if err != nil {
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, render.Markdown(f.Content))
}

func (h *Hdl) Reserved(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "This is a route reserved for the pasties API.")
}

// done answers a successful mutation: htmx gets HX-Redirect, a plain
// browser form gets 303, everything else the JSON body.
func (h *Hdl) done(w http.ResponseWriter, r *http.Request, status int, location string, body any) {
	if plainForm(r) {
		http.Redirect(w, r, location, http.StatusSeeOther)
		return
	}
	w.Header().Set("HX-Redirect", location)
	writeJSON(w, status, body)
}

func (h *Hdl) fail(w http.ResponseWriter, r *http.Request, err error) {
	if plainForm(r) && h.pages != nil {
		logFailure(r, err)
		h.pages.info(w, r, domain.Status(err), "Error", publicMessage(err))
		return
	}
	writeErr(w, r, err)
}

func pageURL(r *http.Request, pasteURL string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host + "/" + pasteURL
}

type errResp struct {
	Error     domain.ErrDetail `json:"error"`
	RequestID string           `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	logFailure(r, err)
	writeJSON(w, domain.Status(err), errResp{
		Error:     domain.ToResp(err).Error,
		RequestID: util.GetRequestID(r.Context()),
	})
}

func publicMessage(err error) string {
	return domain.ToResp(err).Error.Msg
}

func logFailure(r *http.Request, err error) {
	status := domain.Status(err)
	ev := hlog.FromRequest(r).Warn()
	if status >= 500 {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).
		Int("status", status).
		Str("request_id", util.GetRequestID(r.Context())).
		Msg("request failed")
}
