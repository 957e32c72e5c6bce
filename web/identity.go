package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"online-books/library"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is who is making the current request. It is resolved once per
// request by the session middleware and read by handlers from the context.
type Identity struct {
	Session *library.Session // nil until the visitor needs one
	User    *library.User    // nil when anonymous
}

// Authenticated reports whether a user is logged in.
func (id *Identity) Authenticated() bool { return id != nil && id.User != nil }

func withIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the request identity; never nil inside the router.
func IdentityFrom(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return &Identity{}
}

// loadIdentity resolves the session cookie into an Identity.
func (s *Server) loadIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := &Identity{}
		if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
			sess, err := s.lib.GetSession(r.Context(), c.Value)
			switch {
			case err == nil:
				id.Session = sess
				if sess.Authenticated() {
					u, err := s.lib.GetUser(r.Context(), sess.UserID)
					if err != nil && !errors.Is(err, library.ErrNotFound) {
						s.serverError(w, r, err)
						return
					}
					id.User = u
				}
			case errors.Is(err, library.ErrNotFound):
				s.clearCookie(w)
			default:
				s.serverError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// requireLogin sends anonymous visitors to the login page, remembering where
// they were going.
func (s *Server) requireLogin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFrom(r.Context()).Authenticated() {
			target := "/login?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *library.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// flash queues a message for the next page, starting an anonymous session
// if the visitor has none yet.
func (s *Server) flash(w http.ResponseWriter, r *http.Request, level, msg string) error {
	id := IdentityFrom(r.Context())
	if id.Session == nil {
		sess, err := s.lib.StartSession(r.Context())
		if err != nil {
			return err
		}
		id.Session = sess
		s.setSessionCookie(w, sess)
	}
	return s.lib.AddFlash(r.Context(), id.Session.Token, library.Flash{Level: level, Message: msg})
}
