package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"online-books/library"
)

// Library is the slice of *library.LibraryManager the handlers use.
type Library interface {
	SearchBooks(ctx context.Context, q string, availableOnly bool) ([]*library.Book, error)
	GetBook(ctx context.Context, id int64) (*library.Book, error)
	ActiveLoansFor(ctx context.Context, userID int64) ([]*library.Loan, error)
	LoanHistory(ctx context.Context, userID int64) ([]*library.Loan, error)
	Borrow(ctx context.Context, userID, bookID int64) (*library.Loan, error)
	Return(ctx context.Context, userID, loanID int64) (*library.Loan, error)

	CreateUser(ctx context.Context, username, password1, password2 string) (int64, error)
	Authenticate(ctx context.Context, username, password string) (*library.User, error)
	GetUser(ctx context.Context, id int64) (*library.User, error)

	StartSession(ctx context.Context) (*library.Session, error)
	GetSession(ctx context.Context, token string) (*library.Session, error)
	Login(ctx context.Context, oldToken string, userID int64) (*library.Session, error)
	Logout(ctx context.Context, token string) (*library.Session, error)
	AddFlash(ctx context.Context, token string, f library.Flash) error
	PopFlashes(ctx context.Context, token string) ([]library.Flash, error)
}

// Options tune the session cookie.
type Options struct {
	CookieName   string
	SecureCookie bool
}

// Server renders the lending site.
type Server struct {
	lib       Library
	logger    *slog.Logger
	opts      Options
	templates *templates
}

func NewServer(lib Library, logger *slog.Logger, opts Options) (*Server, error) {
	if opts.CookieName == "" {
		opts.CookieName = "sessionid"
	}
	t, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Server{lib: lib, logger: logger, opts: opts, templates: t}, nil
}

// Routes builds the router with logging and session middleware applied.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Use(s.loadIdentity)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/", s.home).Methods(http.MethodGet)
	r.HandleFunc("/about", s.about).Methods(http.MethodGet)
	r.HandleFunc("/help", s.help).Methods(http.MethodGet)

	r.HandleFunc("/signup", s.signup).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/login", s.login).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/dashboard", s.requireLogin(s.dashboard)).Methods(http.MethodGet)
	r.HandleFunc("/borrow/{bookID:[0-9]+}", s.requireLogin(s.borrowBook)).Methods(http.MethodPost)
	r.HandleFunc("/return/{loanID:[0-9]+}", s.requireLogin(s.returnBook)).Methods(http.MethodPost)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
