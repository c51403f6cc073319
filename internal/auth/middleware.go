package auth

import (
	"context"
	"net/http"
)

// LoginPath is the login entry point anonymous users are redirected to.
// The originally requested path rides along in the next query parameter so
// a successful login can resume the request.
const LoginPath = "/auth/login/"

// NextParam is the query parameter carrying the resume path.
const NextParam = "next"

// Context keys for auth data
type contextKey string

const userKey contextKey = "user"

// Middleware provides authentication middleware for HTTP handlers.
type Middleware struct {
	sessions *SessionService
	users    *UserService
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(sessions *SessionService, users *UserService) *Middleware {
	return &Middleware{sessions: sessions, users: users}
}

// RequireAuth is middleware that requires a valid session.
// Anonymous requests are redirected to the login page with the original
// path in the next parameter; they never reach the wrapped handler.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := m.resolveUser(r)
		if user == nil {
			// next carries the raw path so the round-trip string matches
			// what the client originally requested.
			http.Redirect(w, r, LoginPath+"?"+NextParam+"="+r.URL.Path, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// OptionalAuth is middleware that adds the principal to context if present.
// Does not require authentication - continues with or without a session.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := m.resolveUser(r); user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// resolveUser returns the authenticated principal for the request, or nil.
func (m *Middleware) resolveUser(r *http.Request) *User {
	sessionID, err := GetFromRequest(r)
	if err != nil {
		return nil
	}

	userID, err := m.sessions.Validate(r.Context(), sessionID)
	if err != nil {
		return nil
	}

	user, err := m.users.GetByID(r.Context(), userID)
	if err != nil {
		return nil
	}
	return user
}

// WithUser stores the principal in the context.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFrom retrieves the principal from the request context.
// Returns nil if no user is authenticated.
func UserFrom(ctx context.Context) *User {
	user, _ := ctx.Value(userKey).(*User)
	return user
}

// IsAuthenticated checks if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return UserFrom(ctx) != nil
}
