package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"online-books/library"
)

const badCredentials = "Please enter a correct username and password. Note that both fields may be case-sensitive."

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "home", http.StatusOK, nil)
}

func (s *Server) about(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "about", http.StatusOK, nil)
}

func (s *Server) help(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "help", http.StatusOK, nil)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.render(w, r, "signup", http.StatusOK, nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	_, err := s.lib.CreateUser(r.Context(), username, r.PostFormValue("password1"), r.PostFormValue("password2"))
	var verr *library.ValidationError
	switch {
	case errors.As(err, &verr):
		s.render(w, r, "signup", http.StatusOK, &pageData{
			Form:   map[string]string{"username": username},
			Errors: verr.Fields,
		})
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}

	s.redirectWithFlash(w, r, "/login", library.FlashSuccess, "Sign up successful! Please log in.")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.render(w, r, "login", http.StatusOK, &pageData{Next: r.URL.Query().Get("next")})
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	next := r.PostFormValue("next")
	user, err := s.lib.Authenticate(r.Context(), username, r.PostFormValue("password"))
	if errors.Is(err, library.ErrInvalidCredentials) {
		s.render(w, r, "login", http.StatusOK, &pageData{
			Form:  map[string]string{"username": username},
			Error: badCredentials,
			Next:  next,
		})
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	id := IdentityFrom(r.Context())
	var oldToken string
	if id.Session != nil {
		oldToken = id.Session.Token
	}
	sess, err := s.lib.Login(r.Context(), oldToken, user.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	id.Session, id.User = sess, user
	s.setSessionCookie(w, sess)
	s.logger.Info("user logged in", "user_id", user.ID)

	s.redirectWithFlash(w, r, safeNext(next), library.FlashSuccess, fmt.Sprintf("Welcome %s!", user.Username))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	id := IdentityFrom(r.Context())
	if id.Session != nil {
		sess, err := s.lib.Logout(r.Context(), id.Session.Token)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		if id.User != nil {
			s.logger.Info("user logged out", "user_id", id.User.ID)
		}
		id.Session, id.User = sess, nil
		s.setSessionCookie(w, sess)
	}
	s.redirectWithFlash(w, r, "/", library.FlashInfo, "Logged out successfully.")
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	user := IdentityFrom(r.Context()).User
	query := r.URL.Query().Get("q")

	loans, err := s.lib.ActiveLoansFor(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	history, err := s.lib.LoanHistory(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	books, err := s.lib.SearchBooks(r.Context(), query, true)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	data := &pageData{Query: query, Loans: loans, Books: books}
	for _, l := range history {
		if !l.Active() {
			data.History = append(data.History, l)
		}
	}
	s.render(w, r, "dashboard", http.StatusOK, data)
}

func (s *Server) borrowBook(w http.ResponseWriter, r *http.Request) {
	user := IdentityFrom(r.Context()).User
	bookID, err := strconv.ParseInt(mux.Vars(r)["bookID"], 10, 64)
	if err != nil {
		s.redirectWithFlash(w, r, "/dashboard", library.FlashError, "Book not found.")
		return
	}

	loan, err := s.lib.Borrow(r.Context(), user.ID, bookID)
	switch {
	case err == nil:
		s.redirectWithFlash(w, r, "/dashboard", library.FlashSuccess, fmt.Sprintf("You borrowed: %s", loan.Book.Title))
	case errors.Is(err, library.ErrUnavailable):
		title := "this book"
		if b, err := s.lib.GetBook(r.Context(), bookID); err == nil {
			title = b.Title
		}
		s.redirectWithFlash(w, r, "/dashboard", library.FlashError, fmt.Sprintf("Sorry, %s is not available right now.", title))
	case errors.Is(err, library.ErrNotFound):
		s.redirectWithFlash(w, r, "/dashboard", library.FlashError, "Book not found.")
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	user := IdentityFrom(r.Context()).User
	loanID, err := strconv.ParseInt(mux.Vars(r)["loanID"], 10, 64)
	if err != nil {
		s.redirectWithFlash(w, r, "/dashboard", library.FlashError, "Loan not found.")
		return
	}

	loan, err := s.lib.Return(r.Context(), user.ID, loanID)
	switch {
	case err == nil:
		s.redirectWithFlash(w, r, "/dashboard", library.FlashSuccess, fmt.Sprintf("You returned: %s", loan.Book.Title))
	case errors.Is(err, library.ErrAlreadyReturned):
		s.redirectWithFlash(w, r, "/dashboard", library.FlashError, "That book was already returned.")
	case errors.Is(err, library.ErrNotFound):
		s.redirectWithFlash(w, r, "/dashboard", library.FlashError, "Loan not found.")
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) redirectWithFlash(w http.ResponseWriter, r *http.Request, target, level, msg string) {
	if err := s.flash(w, r, level, msg); err != nil {
		s.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}
