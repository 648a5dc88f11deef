// internal/sandbox/handler.go
package sandbox

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service *Service
	limiter *rate.Limiter
	logger  *slog.Logger
	covers  http.Handler
	faults  *injector
}

type HandlerOption func(*Handler)

// WithWritesPerMinute limits mutating requests across all callers. Zero or
// less disables the limit.
func WithWritesPerMinute(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
	}
}

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCoverUpstream forwards cover image requests to another library
// service. Without it every cover is missing.
func WithCoverUpstream(upstream *url.URL) HandlerOption {
	return func(h *Handler) {
		if upstream != nil {
			h.covers = httputil.NewSingleHostReverseProxy(upstream)
		}
	}
}

// WithFaults injects latency or failures into a share of requests so that
// clients can be exercised against a misbehaving service.
func WithFaults(faults ...Fault) HandlerOption {
	return func(h *Handler) {
		if len(faults) > 0 {
			h.faults = newInjector(faults, uint64(time.Now().UnixNano()))
		}
	}
}

func NewHandler(service *Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the library service API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(h.throttleWrites)
	if h.faults != nil {
		h.faults.logger = h.logger
		r.Use(h.faults.middleware)
	}

	r.Route("/v1/library", func(r chi.Router) {
		r.Get("/", h.handleListLibraries)
		r.Post("/", h.handleAddLibrary)
		r.Route("/{libraryID}", func(r chi.Router) {
			r.Put("/", h.handleUpdateLibrary)
			r.Delete("/", h.handleDeleteLibrary)
			r.Get("/book", h.handleListHoldings)
			r.Route("/book/{isbn}", func(r chi.Router) {
				r.Get("/", h.handleGetHolding)
				r.Post("/", h.handleAddBook)
				r.Post("/checkout", h.handleCheckout)
				r.Post("/checkin", h.handleCheckin)
				r.Post("/extend", h.handleExtend)
			})
		})
	})
	r.Get("/v1/user/checked-out", h.handleCheckedOut)
	r.Get("/v1/loan/{loanID}/events", h.handleLoanEvents)
	r.Get("/v1/assets/cover/{file}", h.handleCover)

	return r
}

func (h *Handler) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.service.ListLibraries(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, libs)
}

func (h *Handler) handleAddLibrary(w http.ResponseWriter, r *http.Request) {
	var lib catalog.Library
	if err := decodeBody(r, &lib); err != nil {
		h.writeError(w, r, err)
		return
	}

	added, err := h.service.AddLibrary(r.Context(), lib)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleUpdateLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var lib catalog.Library
	if err := decodeBody(r, &lib); err != nil {
		h.writeError(w, r, err)
		return
	}
	lib.ID = id

	updated, err := h.service.UpdateLibrary(r.Context(), lib)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.DeleteLibrary(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListHoldings(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	holdings, err := h.service.Holdings(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *Handler) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	holding, err := h.service.Holding(r.Context(), id, isbnParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Stock       int              `json:"stock"`
		Title       string           `json:"title"`
		Authors     []catalog.Author `json:"authors"`
		ByStatement string           `json:"byStatement"`
		Description string           `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	book := catalog.Book{
		ISBN:        isbnParam(r),
		Title:       req.Title,
		Authors:     req.Authors,
		ByStatement: req.ByStatement,
		Description: req.Description,
	}
	holding, err := h.service.AddBook(r.Context(), id, book, req.Stock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, holding)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	loan, err := h.service.Checkout(r.Context(), id, isbnParam(r), userParam(r, req.Username))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleCheckin(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req struct {
		LibraryID ids.LibraryID `json:"libraryId"`
		ISBN      ids.ISBN      `json:"isbn"`
		Username  string        `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.LibraryID != "" && (!req.LibraryID.Canonical() || !strings.EqualFold(string(req.LibraryID), string(id))) {
		h.writeError(w, r, invalid("libraryId must be the hyphenated id of the library in the path"))
		return
	}

	loan, err := h.service.Checkin(r.Context(), id, isbnParam(r), userParam(r, req.Username))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := libraryIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.service.Extend(r.Context(), id, isbnParam(r), userParam(r, ""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleCheckedOut lists a user's loans. Library ids are reported without
// hyphens, as the library service does.
func (h *Handler) handleCheckedOut(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Loans(r.Context(), userParam(r, ""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]circulation.CheckedOutBook, len(books))
	for i, b := range books {
		b.LibraryID = ids.LibraryID(strings.ReplaceAll(string(b.LibraryID), "-", ""))
		out[i] = b
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLoanEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.History(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleCover(w http.ResponseWriter, r *http.Request) {
	if h.covers != nil {
		h.covers.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusNotFound, errorBody{Message: "cover not found"})
}

type errorBody struct {
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := ToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Message: publicMessage(err, status)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads an optional JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return invalid("malformed JSON body")
	}
	return nil
}

func invalid(msg string) error {
	return &invalidError{msg: msg}
}

type invalidError struct{ msg string }

func (e *invalidError) Error() string        { return e.msg }
func (e *invalidError) Is(target error) bool { return target == ErrInvalidArgument }

// libraryIDParam accepts the library id in hyphenated or plain form and
// returns the canonical form.
func libraryIDParam(r *http.Request) (ids.LibraryID, error) {
	u, err := uuid.Parse(chi.URLParam(r, "libraryID"))
	if err != nil {
		return "", ErrLibraryNotFound
	}
	return ids.LibraryID(u.String()), nil
}

func isbnParam(r *http.Request) ids.ISBN {
	return ids.ISBN(chi.URLParam(r, "isbn"))
}

// userParam prefers the userId query parameter over a username in the body.
func userParam(r *http.Request, fromBody string) string {
	if u := r.URL.Query().Get("userId"); u != "" {
		return u
	}
	return fromBody
}

func (h *Handler) throttleWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !h.limiter.Allow() {
			h.writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
