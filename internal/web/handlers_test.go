package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inknote/inknote/internal/auth"
	"github.com/inknote/inknote/internal/notes"
	"github.com/inknote/inknote/internal/ratelimit"
	"github.com/inknote/inknote/internal/testdb"
)

type harness struct {
	mux      *http.ServeMux
	store    *notes.Store
	users    *auth.UserService
	sessions *auth.SessionService
	limiter  *ratelimit.Limiter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database, err := testdb.NewInMemory()
	require.NoError(t, err, "in-memory database")
	t.Cleanup(func() { database.Close() })

	renderer, err := NewRenderer()
	require.NoError(t, err, "renderer")

	users := auth.NewUserService(database)
	sessions := auth.NewSessionService(database, time.Hour)
	store := notes.NewStore(database)

	// Generous limits so tests never trip the limiter by accident.
	limiter := ratelimit.NewLimiter(ratelimit.Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)

	mux := http.NewServeMux()
	handler := NewHandler(renderer, store, users, sessions, false)
	handler.RegisterRoutes(mux, auth.NewMiddleware(sessions, users), limiter)

	return &harness{mux: mux, store: store, users: users, sessions: sessions, limiter: limiter}
}

// signup registers a user and returns a logged-in session cookie.
func (h *harness) signup(t *testing.T, username string) (*http.Cookie, string) {
	t.Helper()

	user, err := h.users.Register(context.Background(), username, username+"@example.com", "password123")
	require.NoError(t, err, "register %s", username)

	sessionID, err := h.sessions.Create(context.Background(), user.ID)
	require.NoError(t, err, "create session")

	return &http.Cookie{Name: auth.SessionCookieName, Value: sessionID}, user.ID
}

func (h *harness) get(path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postForm(path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func noteForm(title, text, slug string) url.Values {
	return url.Values{"title": {title}, "text": {text}, "slug": {slug}}
}

// Route availability

func TestPublicPagesForAnonymous(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, path := range []string{"/", "/auth/login/", "/auth/signup/"} {
		rec := h.get(path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	}
}

func TestProtectedPagesRedirectAnonymous(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	paths := []string{"/notes/", "/add/", "/done/", "/note/some-slug/", "/edit/some-slug/", "/delete/some-slug/"}
	for _, path := range paths {
		rec := h.get(path, nil)
		require.Equal(t, http.StatusFound, rec.Code, "GET %s", path)
		assert.Equal(t, "/auth/login/?next="+path, rec.Header().Get("Location"), "GET %s", path)
	}
}

func TestProtectedPagesForOwner(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "owner")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Mine", Slug: "mine"}, userID)
	require.NoError(t, err)

	for _, path := range []string{"/notes/", "/add/", "/done/", "/note/mine/", "/edit/mine/", "/delete/mine/"} {
		rec := h.get(path, cookie)
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	}
}

// Signup and login

func TestSignupLogsIn(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.postForm("/auth/signup/", url.Values{
		"username": {"newbie"},
		"email":    {"newbie@example.com"},
		"password": {"password123"},
	}, nil)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/notes/", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies, "signup should set a session cookie")
	assert.Equal(t, auth.SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSignupDuplicateUsernameRerendersForm(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup(t, "taken")

	rec := h.postForm("/auth/signup/", url.Values{
		"username": {"taken"},
		"email":    {"other@example.com"},
		"password": {"password123"},
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already taken")
}

func TestLoginRedirectsToNext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.users.Register(context.Background(), "erin", "erin@example.com", "password123")
	require.NoError(t, err)

	rec := h.postForm("/auth/login/", url.Values{
		"username": {"erin"},
		"password": {"password123"},
		"next":     {"/note/some-slug/"},
	}, nil)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/note/some-slug/", rec.Header().Get("Location"))
	require.NotEmpty(t, rec.Result().Cookies())
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.users.Register(context.Background(), "frank", "frank@example.com", "password123")
	require.NoError(t, err)

	for _, next := range []string{"https://evil.example/", "//evil.example/", ""} {
		rec := h.postForm("/auth/login/", url.Values{
			"username": {"frank"},
			"password": {"password123"},
			"next":     {next},
		}, nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/notes/", rec.Header().Get("Location"), "next=%q", next)
	}
}

func TestLoginBadCredentialsRerendersForm(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.postForm("/auth/login/", url.Values{
		"username": {"ghost"},
		"password": {"whatever1"},
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
	assert.Empty(t, rec.Result().Cookies(), "failed login must not set a cookie")
}

func TestLogoutRendersPageAndClearsCookie(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, _ := h.signup(t, "gale")

	rec := h.postForm("/auth/logout/", url.Values{}, cookie)

	// Logout is a rendered page, not a redirect.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "logged out")

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, auth.SessionCookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge, "cookie should be expired")

	// The session is gone server-side too.
	rec2 := h.get("/notes/", cookie)
	assert.Equal(t, http.StatusFound, rec2.Code)
}

// Notes CRUD over HTTP

func TestCreateNoteRedirectsToDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "henry")

	rec := h.postForm("/add/", noteForm("Test title", "Some **markdown**", ""), cookie)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/done/", rec.Header().Get("Location"))

	note, err := h.store.GetBySlugForAuthor(context.Background(), "test-title", userID)
	require.NoError(t, err)
	assert.Equal(t, "Test title", note.Title)
}

func TestCreateNoteMissingTitle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, _ := h.signup(t, "iris")

	rec := h.postForm("/add/", noteForm("", "body", "slug"), cookie)

	assert.Equal(t, http.StatusOK, rec.Code, "validation failure redisplays the form")
	assert.Contains(t, rec.Body.String(), "This field is required.")

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "nothing persisted")
}

func TestCreateNoteMalformedSlug(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, _ := h.signup(t, "nora")

	rec := h.postForm("/add/", noteForm("Valid title", "body", "not a slug !!"), cookie)

	assert.Equal(t, http.StatusOK, rec.Code, "validation failure redisplays the form")
	assert.Contains(t, rec.Body.String(), notes.InvalidSlugMessage)

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "nothing persisted")
}

func TestEditNoteMalformedSlug(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "omar")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Keep", Slug: "keep"}, userID)
	require.NoError(t, err)

	rec := h.postForm("/edit/keep/", noteForm("Keep", "body", "NOT OK"), cookie)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), notes.InvalidSlugMessage)

	// The note is untouched.
	note, err := h.store.GetBySlugForAuthor(context.Background(), "keep", userID)
	require.NoError(t, err)
	assert.Equal(t, "Keep", note.Title)
}

func TestCreateNoteSlugConflictShowsWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	aliceCookie, _ := h.signup(t, "alice")
	bobCookie, _ := h.signup(t, "bob")

	rec := h.postForm("/add/", noteForm("First", "", "shared"), aliceCookie)
	require.Equal(t, http.StatusFound, rec.Code)

	// Bob collides with Alice's slug even though the note is invisible to him.
	rec = h.postForm("/add/", noteForm("Second", "", "shared"), bobCookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shared"+notes.Warning)

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDetailMasksOtherOwnersAs404(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, aliceID := h.signup(t, "alice")
	bobCookie, _ := h.signup(t, "bob")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Secret", Slug: "secret"}, aliceID)
	require.NoError(t, err)

	secret := h.get("/note/secret/", bobCookie)
	missing := h.get("/note/definitely-missing/", bobCookie)

	assert.Equal(t, http.StatusNotFound, secret.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	// Same page either way; existence must not leak through the body.
	assert.Equal(t, missing.Body.String(), secret.Body.String())
}

func TestEditAndDeleteMaskOtherOwnersAs404(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, aliceID := h.signup(t, "alice")
	bobCookie, _ := h.signup(t, "bob")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Secret", Slug: "secret"}, aliceID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, h.get("/edit/secret/", bobCookie).Code)
	assert.Equal(t, http.StatusNotFound, h.get("/delete/secret/", bobCookie).Code)
	assert.Equal(t, http.StatusNotFound, h.postForm("/edit/secret/", noteForm("X", "", "x"), bobCookie).Code)
	assert.Equal(t, http.StatusNotFound, h.postForm("/delete/secret/", url.Values{}, bobCookie).Code)

	// Alice's note is untouched.
	note, err := h.store.GetBySlugForAuthor(context.Background(), "secret", aliceID)
	require.NoError(t, err)
	assert.Equal(t, "Secret", note.Title)
}

func TestEditNoteRedirectsToDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "jane")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Old", Text: "old", Slug: "old"}, userID)
	require.NoError(t, err)

	rec := h.postForm("/edit/old/", noteForm("New", "new", "new"), cookie)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/done/", rec.Header().Get("Location"))

	note, err := h.store.GetBySlugForAuthor(context.Background(), "new", userID)
	require.NoError(t, err)
	assert.Equal(t, "New", note.Title)
}

func TestEditSlugConflictShowsWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "kate")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "A", Slug: "taken"}, userID)
	require.NoError(t, err)
	_, err = h.store.Create(context.Background(), notes.CreateParams{Title: "B", Slug: "free"}, userID)
	require.NoError(t, err)

	rec := h.postForm("/edit/free/", noteForm("B", "", "taken"), cookie)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taken"+notes.Warning)
}

func TestDeleteNoteRedirectsToDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "liam")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Gone", Slug: "gone"}, userID)
	require.NoError(t, err)

	rec := h.postForm("/delete/gone/", url.Values{}, cookie)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/done/", rec.Header().Get("Location"))

	_, err = h.store.GetBySlugForAuthor(context.Background(), "gone", userID)
	assert.Error(t, err, "note should be gone")
}

func TestNotesListShowsOnlyOwnNotes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	aliceCookie, aliceID := h.signup(t, "alice")
	_, bobID := h.signup(t, "bob")

	_, err := h.store.Create(context.Background(), notes.CreateParams{Title: "Alice note", Slug: "alice-note"}, aliceID)
	require.NoError(t, err)
	_, err = h.store.Create(context.Background(), notes.CreateParams{Title: "Bob note", Slug: "bob-note"}, bobID)
	require.NoError(t, err)

	rec := h.get("/notes/", aliceCookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Alice note")
	assert.NotContains(t, body, "Bob note")
}

func TestNoteDetailRendersSanitizedMarkdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cookie, userID := h.signup(t, "mia")

	_, err := h.store.Create(context.Background(), notes.CreateParams{
		Title: "Scripted",
		Text:  "# Heading\n<script>alert(1)</script>",
		Slug:  "scripted",
	}, userID)
	require.NoError(t, err)

	rec := h.get("/note/scripted/", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Heading")
	assert.NotContains(t, body, "<script>")
}

func TestAuthRateLimitReturns429(t *testing.T) {
	t.Parallel()

	// A dedicated tight limiter; the harness default is too generous to trip.
	tight := ratelimit.NewLimiter(ratelimit.Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	t.Cleanup(tight.Stop)

	handler := tight.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login/", nil)
	req.RemoteAddr = "10.1.2.3:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
