package web

import (
	"net/http"

	"github.com/inknote/inknote/internal/auth"
	"github.com/inknote/inknote/internal/errs"
	"github.com/inknote/inknote/internal/logutil"
	"github.com/inknote/inknote/internal/notes"
	"github.com/inknote/inknote/internal/obs"
	"github.com/inknote/inknote/internal/ratelimit"
	"github.com/inknote/inknote/internal/urlutil"
)

// SuccessPath is the fixed destination after a successful create, edit or
// delete submission.
const SuccessPath = "/done/"

// Handler provides HTTP handlers for all pages.
type Handler struct {
	renderer      *Renderer
	store         *notes.Store
	users         *auth.UserService
	sessions      *auth.SessionService
	secureCookies bool
}

// NewHandler creates a new web handler.
func NewHandler(
	renderer *Renderer,
	store *notes.Store,
	users *auth.UserService,
	sessions *auth.SessionService,
	secureCookies bool,
) *Handler {
	return &Handler{
		renderer:      renderer,
		store:         store,
		users:         users,
		sessions:      sessions,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers all routes on the given mux. Credential
// submissions go through the rate limiter; every note page goes through
// RequireAuth, which redirects anonymous users to login with a next
// parameter.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware, limiter *ratelimit.Limiter) {
	// Public pages
	mux.Handle("GET /{$}", mw.OptionalAuth(http.HandlerFunc(h.HandleHome)))
	mux.HandleFunc("GET /auth/login/{$}", h.HandleLoginPage)
	mux.Handle("POST /auth/login/{$}", limiter.Middleware(http.HandlerFunc(h.HandleLoginSubmit)))
	mux.HandleFunc("GET /auth/signup/{$}", h.HandleSignupPage)
	mux.Handle("POST /auth/signup/{$}", limiter.Middleware(http.HandlerFunc(h.HandleSignupSubmit)))
	mux.Handle("POST /auth/logout/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleLogout)))

	// Notes CRUD (auth required)
	mux.Handle("GET /notes/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleNotesList)))
	mux.Handle("GET /add/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleAddNotePage)))
	mux.Handle("POST /add/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleAddNoteSubmit)))
	mux.Handle("GET /done/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleSuccess)))
	mux.Handle("GET /note/{slug}/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleNoteDetail)))
	mux.Handle("GET /edit/{slug}/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleEditNotePage)))
	mux.Handle("POST /edit/{slug}/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleEditNoteSubmit)))
	mux.Handle("GET /delete/{slug}/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleDeleteNotePage)))
	mux.Handle("POST /delete/{slug}/{$}", mw.RequireAuth(http.HandlerFunc(h.HandleDeleteNoteSubmit)))
}

// PageData contains common data passed to all templates.
type PageData struct {
	Title string
	User  *auth.User
	Error string
}

// NoteForm is the explicit input surface of the create and edit forms.
// Exactly title, text and slug; an author field is never accepted.
type NoteForm struct {
	Title      string
	Text       string
	Slug       string
	TitleError string
	SlugError  string
}

// HasErrors reports whether any field-level error is set.
func (f NoteForm) HasErrors() bool {
	return f.TitleError != "" || f.SlugError != ""
}

// NotesListData contains data for the notes list page.
type NotesListData struct {
	PageData
	Notes []notes.Note
}

// NoteFormData contains data for the create and edit form pages.
type NoteFormData struct {
	PageData
	Heading string
	Action  string
	Form    NoteForm
}

// NoteViewData contains data for the detail and delete-confirm pages.
type NoteViewData struct {
	PageData
	Note *notes.Note
}

// LoginPageData contains data for the login page.
type LoginPageData struct {
	PageData
	Next     string
	Username string
}

// SignupPageData contains data for the signup page.
type SignupPageData struct {
	PageData
	Username string
	Email    string
}

// Handler implementations

// HandleHome handles GET / - the public landing page.
func (h *Handler) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title: "Home",
		User:  auth.UserFrom(r.Context()),
	}
	if err := h.renderer.Render(w, "home.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleLoginPage handles GET /auth/login/ - shows the login form.
// The next query parameter rides through the form so login resumes the
// originally requested page.
func (h *Handler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := LoginPageData{
		PageData: PageData{Title: "Log in"},
		Next:     r.URL.Query().Get(auth.NextParam),
	}
	if err := h.renderer.Render(w, "auth/login.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleLoginSubmit handles POST /auth/login/.
func (h *Handler) HandleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	next := r.FormValue(auth.NextParam)

	user, err := h.users.VerifyLogin(r.Context(), username, password)
	if err != nil {
		data := LoginPageData{
			PageData: PageData{Title: "Log in", Error: "Invalid username or password."},
			Next:     next,
			Username: username,
		}
		if err := h.renderer.Render(w, "auth/login.html", data); err != nil {
			http.Error(w, "Failed to render page", http.StatusInternalServerError)
		}
		return
	}

	if err := h.startSession(w, r, user.ID); err != nil {
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	obs.From(r.Context()).Info("login", "user_id", user.ID)
	http.Redirect(w, r, urlutil.SafeLocalPath(next, "/notes/"), http.StatusFound)
}

// HandleSignupPage handles GET /auth/signup/ - shows the signup form.
func (h *Handler) HandleSignupPage(w http.ResponseWriter, r *http.Request) {
	data := SignupPageData{
		PageData: PageData{Title: "Sign up"},
	}
	if err := h.renderer.Render(w, "auth/signup.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleSignupSubmit handles POST /auth/signup/ - creates the account and
// starts a session right away.
func (h *Handler) HandleSignupSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	username := r.FormValue("username")
	email := r.FormValue("email")
	password := r.FormValue("password")

	user, err := h.users.Register(r.Context(), username, email, password)
	if err != nil {
		message := "Could not create the account."
		switch err {
		case auth.ErrAccountExists:
			message = "That username is already taken."
		case auth.ErrWeakPassword:
			message = "Password must be at least 8 characters."
		}
		data := SignupPageData{
			PageData: PageData{Title: "Sign up", Error: message},
			Username: username,
			Email:    email,
		}
		if err := h.renderer.Render(w, "auth/signup.html", data); err != nil {
			http.Error(w, "Failed to render page", http.StatusInternalServerError)
		}
		return
	}

	if err := h.startSession(w, r, user.ID); err != nil {
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	obs.From(r.Context()).Info("signup", "user_id", user.ID)
	http.Redirect(w, r, "/notes/", http.StatusFound)
}

// HandleLogout handles POST /auth/logout/ - destroys the session and renders
// the logged-out page.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, err := auth.GetFromRequest(r); err == nil {
		_ = h.sessions.Delete(r.Context(), sessionID)
	}
	auth.ClearCookie(w, h.secureCookies)

	data := PageData{Title: "Logged out"}
	if err := h.renderer.Render(w, "auth/logged_out.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleNotesList handles GET /notes/ - the caller's notes, nobody else's.
func (h *Handler) HandleNotesList(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	list, err := h.store.ListByAuthor(r.Context(), user.ID)
	if err != nil {
		obs.From(r.Context()).Error("list notes", "error", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load notes")
		return
	}

	data := NotesListData{
		PageData: PageData{Title: "My notes", User: user},
		Notes:    list,
	}
	if err := h.renderer.Render(w, "notes/list.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleAddNotePage handles GET /add/ - shows the empty note form.
func (h *Handler) HandleAddNotePage(w http.ResponseWriter, r *http.Request) {
	data := NoteFormData{
		PageData: PageData{Title: "Add note", User: auth.UserFrom(r.Context())},
		Heading:  "Add note",
		Action:   "/add/",
	}
	if err := h.renderer.Render(w, "notes/form.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleAddNoteSubmit handles POST /add/ - creates a note owned by the
// caller. A slug conflict re-renders the form with the field-level message
// and no redirect; nothing is persisted in that case.
func (h *Handler) HandleAddNoteSubmit(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	form, ok := h.parseNoteForm(w, r)
	if !ok {
		return
	}
	obs.From(r.Context()).Debug("note_submit", "op", "create", "form", logutil.FormatFormForLog(r.PostForm, 80))
	if form.HasErrors() {
		h.renderNoteForm(w, r, "Add note", "/add/", form)
		return
	}

	_, err := h.store.Create(r.Context(), notes.CreateParams{
		Title: form.Title,
		Text:  form.Text,
		Slug:  form.Slug,
	}, user.ID)
	if err != nil {
		if errs.IsCode(err, errs.Conflict) {
			form.SlugError = errs.MessageOf(err)
			h.renderNoteForm(w, r, "Add note", "/add/", form)
			return
		}
		obs.From(r.Context()).Error("create note", "error", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to create note")
		return
	}

	http.Redirect(w, r, SuccessPath, http.StatusFound)
}

// HandleSuccess handles GET /done/ - the fixed post-write destination.
func (h *Handler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	data := PageData{Title: "Done", User: auth.UserFrom(r.Context())}
	if err := h.renderer.Render(w, "notes/success.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleNoteDetail handles GET /note/{slug}/ - shows a note to its owner.
// Someone else's note, or no note at all, is the same 404.
func (h *Handler) HandleNoteDetail(w http.ResponseWriter, r *http.Request) {
	note, ok := h.lookupOwnNote(w, r)
	if !ok {
		return
	}

	data := NoteViewData{
		PageData: PageData{Title: note.Title, User: auth.UserFrom(r.Context())},
		Note:     note,
	}
	if err := h.renderer.Render(w, "notes/detail.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleEditNotePage handles GET /edit/{slug}/ - shows the prefilled form.
func (h *Handler) HandleEditNotePage(w http.ResponseWriter, r *http.Request) {
	note, ok := h.lookupOwnNote(w, r)
	if !ok {
		return
	}

	form := NoteForm{Title: note.Title, Text: note.Text, Slug: note.Slug}
	h.renderNoteForm(w, r, "Edit note", "/edit/"+note.Slug+"/", form)
}

// HandleEditNoteSubmit handles POST /edit/{slug}/ - full replace of title,
// text and slug. The author is never touched, whatever the form carries.
func (h *Handler) HandleEditNoteSubmit(w http.ResponseWriter, r *http.Request) {
	note, ok := h.lookupOwnNote(w, r)
	if !ok {
		return
	}

	form, ok2 := h.parseNoteForm(w, r)
	if !ok2 {
		return
	}
	obs.From(r.Context()).Debug("note_submit", "op", "edit", "form", logutil.FormatFormForLog(r.PostForm, 80))
	action := "/edit/" + note.Slug + "/"
	if form.HasErrors() {
		h.renderNoteForm(w, r, "Edit note", action, form)
		return
	}

	_, err := h.store.Update(r.Context(), note.ID, notes.UpdateParams{
		Title: form.Title,
		Text:  form.Text,
		Slug:  form.Slug,
	})
	if err != nil {
		if errs.IsCode(err, errs.Conflict) {
			form.SlugError = errs.MessageOf(err)
			h.renderNoteForm(w, r, "Edit note", action, form)
			return
		}
		obs.From(r.Context()).Error("update note", "error", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to update note")
		return
	}

	http.Redirect(w, r, SuccessPath, http.StatusFound)
}

// HandleDeleteNotePage handles GET /delete/{slug}/ - the confirmation page.
func (h *Handler) HandleDeleteNotePage(w http.ResponseWriter, r *http.Request) {
	note, ok := h.lookupOwnNote(w, r)
	if !ok {
		return
	}

	data := NoteViewData{
		PageData: PageData{Title: "Delete note", User: auth.UserFrom(r.Context())},
		Note:     note,
	}
	if err := h.renderer.Render(w, "notes/delete.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleDeleteNoteSubmit handles POST /delete/{slug}/ - permanent removal.
func (h *Handler) HandleDeleteNoteSubmit(w http.ResponseWriter, r *http.Request) {
	note, ok := h.lookupOwnNote(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), note.ID); err != nil {
		obs.From(r.Context()).Error("delete note", "error", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to delete note")
		return
	}

	http.Redirect(w, r, SuccessPath, http.StatusFound)
}

// Helpers

// startSession creates a session for userID and sets the cookie.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID string) error {
	sessionID, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		return err
	}
	auth.SetCookie(w, sessionID, h.secureCookies, h.sessions.Duration())
	return nil
}

// lookupOwnNote resolves {slug} for the authenticated caller. Ownership
// failures and missing slugs both end in the same 404 page; the second
// return value reports whether the request may proceed.
func (h *Handler) lookupOwnNote(w http.ResponseWriter, r *http.Request) (*notes.Note, bool) {
	user := auth.UserFrom(r.Context())
	slug := r.PathValue("slug")

	note, err := h.store.GetBySlugForAuthor(r.Context(), slug, user.ID)
	if err != nil {
		if errs.IsCode(err, errs.NotFound) {
			h.renderer.RenderError(w, http.StatusNotFound, "Note not found")
		} else {
			obs.From(r.Context()).Error("lookup note", "error", err)
			h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load note")
		}
		return nil, false
	}
	return note, true
}

// parseNoteForm binds exactly title, text and slug from the submission and
// applies field validation. Returns ok=false if the body is unreadable.
func (h *Handler) parseNoteForm(w http.ResponseWriter, r *http.Request) (NoteForm, bool) {
	if err := r.ParseForm(); err != nil {
		h.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return NoteForm{}, false
	}

	form := NoteForm{
		Title: r.FormValue("title"),
		Text:  r.FormValue("text"),
		Slug:  r.FormValue("slug"),
	}
	if form.Title == "" {
		form.TitleError = "This field is required."
	}
	if form.Slug != "" && !notes.IsValidSlug(form.Slug) {
		form.SlugError = notes.InvalidSlugMessage
	}
	return form, true
}

// renderNoteForm re-displays the note form. Validation failures intentionally
// respond 200 so the user can correct the submission in place.
func (h *Handler) renderNoteForm(w http.ResponseWriter, r *http.Request, heading, action string, form NoteForm) {
	data := NoteFormData{
		PageData: PageData{Title: heading, User: auth.UserFrom(r.Context())},
		Heading:  heading,
		Action:   action,
		Form:     form,
	}
	if err := h.renderer.Render(w, "notes/form.html", data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}
