package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"online-books/library"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{"home", "about", "help", "signup", "login", "dashboard"}

type templates struct {
	byName map[string]*template.Template
}

func parseTemplates() (*templates, error) {
	funcs := template.FuncMap{
		"date": func(l *library.Loan) string { return l.BorrowDate.Format("Jan 2, 2006") },
		"returned": func(l *library.Loan) string {
			if l.ReturnDate == nil {
				return ""
			}
			return l.ReturnDate.Format("Jan 2, 2006")
		},
	}
	t := &templates{byName: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		tmpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", page, err)
		}
		t.byName[page] = tmpl
	}
	return t, nil
}

// pageData is what every template receives.
type pageData struct {
	User    *library.User
	Flashes []library.Flash

	// forms
	Form   map[string]string
	Errors map[string][]string
	Error  string
	Next   string

	// dashboard
	Query   string
	Loans   []*library.Loan
	History []*library.Loan
	Books   []*library.Book
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, page string, status int, data *pageData) {
	if data == nil {
		data = &pageData{}
	}
	id := IdentityFrom(r.Context())
	data.User = id.User
	if id.Session != nil {
		flashes, err := s.lib.PopFlashes(r.Context(), id.Session.Token)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		data.Flashes = flashes
	}

	tmpl, ok := s.templates.byName[page]
	if !ok {
		s.serverError(w, r, fmt.Errorf("no template %q", page))
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.serverError(w, r, fmt.Errorf("render %s: %w", page, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
