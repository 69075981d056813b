package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"biblio/internal/app"
	"biblio/internal/ratelimit"
	"biblio/internal/util"
	"biblio/pkg/domain"
	"biblio/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.ProxyRanges
	MaxUploadBytes int64
}

// Server exposes the lending API over HTTP. Identity arrives in
// trusted gateway headers (X-User-Id, X-User-Name, X-User-Staff);
// the server never verifies credentials itself.
type Server struct {
	app            *app.App
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.ProxyRanges
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.withRateLimit(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/books", s.withUser(s.handleBooks))
	s.mux.Handle("/books/", s.withUser(s.handleBookByID))

	s.mux.Handle("/loans", s.withUser(s.handleLoans))
	s.mux.Handle("/loans/", s.withUser(s.handleLoanByID))

	s.mux.Handle("/reservations", s.withUser(s.handleReservations))
	s.mux.Handle("/reservations/", s.withUser(s.handleReservationByID))

	s.mux.Handle("/admin/reservations/expire", s.withUser(s.handleExpireReservations))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser reads the caller's identity from gateway headers. Requests
// without X-User-Id are rejected.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromHeaders(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func userFromHeaders(r *http.Request) (domain.User, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		return domain.User{}, false
	}
	staff := false
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Staff"))) {
	case "true", "1", "yes":
		staff = true
	}
	return domain.User{
		ID:    id,
		Name:  strings.TrimSpace(r.Header.Get("X-User-Name")),
		Staff: staff,
	}, true
}

func requireStaff(w http.ResponseWriter, user domain.User) bool {
	if !user.Staff {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// /books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		if !requireStaff(w, user) {
			return
		}
		var in app.BookInput
		if !decodeJSON(w, r, &in) {
			return
		}
		book, err := s.app.CreateBook(r.Context(), user, in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		s.handleListBooks(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	q := r.URL.Query()
	filter := store.BookFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		Category:   strings.TrimSpace(q.Get("category")),
		ActiveOnly: true,
	}
	if user.Staff && q.Get("includeInactive") == "true" {
		filter.ActiveOnly = false
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	page, err := s.app.ListBooks(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// /books/{id} and its sub-resources: cover, active, borrow, reserve.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, action, ok := splitResourcePath(r.URL.Path, "/books/")
	if !ok {
		notFound(w, "not found")
		return
	}
	switch action {
	case "":
		s.handleBook(w, r, user, id)
	case "cover":
		s.handleBookCover(w, r, user, id)
	case "active":
		s.handleBookActive(w, r, user, id)
	case "reviews":
		s.handleBookReviews(w, r, user, id)
	case "borrow":
		s.handleBorrow(w, r, user, id)
	case "reserve":
		s.handleReserve(w, r, user, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok || (!book.IsActive && !user.Staff) {
			notFound(w, "book not found")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		if !requireStaff(w, user) {
			return
		}
		var in app.BookInput
		if !decodeJSON(w, r, &in) {
			return
		}
		book, err := s.app.UpdateBook(r.Context(), user, id, in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if !requireStaff(w, user) {
			return
		}
		if err := s.app.DeleteBook(r.Context(), user, id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookCover(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		url, err := s.app.CoverURL(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case http.MethodPost, http.MethodPut:
		if !requireStaff(w, user) {
			return
		}
		if s.maxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		}
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required (field: file)")
			return
		}
		defer file.Close()
		contentType := header.Header.Get("Content-Type")
		if err := s.app.UploadCover(r.Context(), user, id, file, header.Size, contentType); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookReviews(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		summary, err := s.app.BookReviews(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case http.MethodPost:
		var in app.ReviewInput
		if !decodeJSON(w, r, &in) {
			return
		}
		review, err := s.app.AddReview(r.Context(), user, id, in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, review)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookActive(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireStaff(w, user) {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.SetBookActive(r.Context(), user, id, req.Active); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	loan, err := s.app.BorrowBook(r.Context(), user, id, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.ReserveBook(r.Context(), user, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// /loans returns the caller's loans. Staff may ask for the whole
// ledger with ?all=1 or just the late entries with ?overdue=1.
func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	if q.Get("overdue") == "1" {
		s.handleOverdueLoans(w, r, user)
		return
	}
	if q.Get("all") == "1" {
		s.handleUnreturnedLoans(w, r, user)
		return
	}
	overview, err := s.app.MyLoans(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// /loans/{id} plus return, extend, lost, history. /loans/overdue and
// /loans/unreturned are staff report routes sharing the prefix.
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, action, ok := splitResourcePath(r.URL.Path, "/loans/")
	if !ok {
		notFound(w, "not found")
		return
	}
	if action == "" {
		switch id {
		case "overdue":
			s.handleOverdueLoans(w, r, user)
			return
		case "unreturned":
			s.handleUnreturnedLoans(w, r, user)
			return
		}
	}
	switch action {
	case "":
		s.handleLoan(w, r, user, id)
	case "return":
		s.handleReturn(w, r, user, id)
	case "extend":
		s.handleExtend(w, r, user, id)
	case "lost":
		s.handleLost(w, r, user, id)
	case "history":
		s.handleLoanHistory(w, r, user, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) loanForViewer(w http.ResponseWriter, r *http.Request, user domain.User, id string) (domain.Loan, bool) {
	loan, ok, err := s.app.GetLoan(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return domain.Loan{}, false
	}
	if !ok || (loan.BorrowerID != user.ID && !user.Staff) {
		notFound(w, "loan not found")
		return domain.Loan{}, false
	}
	return loan, true
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	loan, ok := s.loanForViewer(w, r, user, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.loanForViewer(w, r, user, id); !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	loan, err := s.app.ReturnLoan(r.Context(), user, id, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.loanForViewer(w, r, user, id); !ok {
		return
	}
	loan, err := s.app.ExtendLoan(r.Context(), user, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleLost(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireStaff(w, user) {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	loan, err := s.app.MarkLoanLost(r.Context(), user, id, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleLoanHistory(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.loanForViewer(w, r, user, id); !ok {
		return
	}
	entries, err := s.app.LoanHistoryEntries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

func (s *Server) handleOverdueLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !requireStaff(w, user) {
		return
	}
	loans, err := s.app.OverdueLoans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": loans,
		"count": len(loans),
	})
}

func (s *Server) handleUnreturnedLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !requireStaff(w, user) {
		return
	}
	loans, err := s.app.UnreturnedLoans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": loans,
		"count": len(loans),
	})
}

// /reservations
func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reservations, err := s.app.MyReservations(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": reservations,
		"count": len(reservations),
	})
}

// /reservations/{id}/cancel|available|fulfill
func (s *Server) handleReservationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, action, ok := splitResourcePath(r.URL.Path, "/reservations/")
	if !ok || action == "" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var (
		res domain.Reservation
		err error
	)
	switch action {
	case "cancel":
		res, err = s.app.CancelReservation(r.Context(), user, id)
	case "available":
		if !requireStaff(w, user) {
			return
		}
		res, err = s.app.MarkReservationAvailable(r.Context(), user, id)
	case "fulfill":
		if !requireStaff(w, user) {
			return
		}
		res, err = s.app.FulfillReservation(r.Context(), user, id)
	default:
		notFound(w, "not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExpireReservations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireStaff(w, user) {
		return
	}
	expired, err := s.app.ExpireReservations(r.Context(), time.Time{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

// splitResourcePath cuts "/books/{id}" or "/books/{id}/{action}" after
// the prefix. ok is false for empty ids or deeper paths.
func splitResourcePath(urlPath, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(urlPath, prefix)
	parts := strings.SplitN(rest, "/", 3)
	if parts[0] == "" || len(parts) == 3 {
		return "", "", false
	}
	if len(parts) == 2 {
		if parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForStatus(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeDomainError maps sentinel errors from the lending core onto
// HTTP statuses: missing resources are 404, state conflicts are 409,
// policy refusals are 422.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrBookNotFound):
		status, code = http.StatusNotFound, "BOOK_NOT_FOUND"
	case errors.Is(err, domain.ErrLoanNotFound):
		status, code = http.StatusNotFound, "LOAN_NOT_FOUND"
	case errors.Is(err, domain.ErrReservationNotFound):
		status, code = http.StatusNotFound, "RESERVATION_NOT_FOUND"
	case errors.Is(err, domain.ErrDuplicateActiveLoan):
		status, code = http.StatusConflict, "LOAN_DUPLICATE"
	case errors.Is(err, domain.ErrAlreadyReturned):
		status, code = http.StatusConflict, "LOAN_ALREADY_RETURNED"
	case errors.Is(err, domain.ErrLoanNotLostable):
		status, code = http.StatusConflict, "LOAN_NOT_LOSTABLE"
	case errors.Is(err, domain.ErrDuplicatePendingReservation):
		status, code = http.StatusConflict, "RESERVATION_DUPLICATE"
	case errors.Is(err, domain.ErrInvalidReservationState):
		status, code = http.StatusConflict, "RESERVATION_INVALID_STATE"
	case errors.Is(err, domain.ErrBookHasActiveLoans):
		status, code = http.StatusConflict, "BOOK_HAS_ACTIVE_LOANS"
	case errors.Is(err, domain.ErrBookUnavailable):
		status, code = http.StatusUnprocessableEntity, "BOOK_UNAVAILABLE"
	case errors.Is(err, domain.ErrLoanLimitExceeded):
		status, code = http.StatusUnprocessableEntity, "LOAN_LIMIT_EXCEEDED"
	case errors.Is(err, domain.ErrExtensionLimitExceeded):
		status, code = http.StatusUnprocessableEntity, "LOAN_EXTENSION_LIMIT"
	case errors.Is(err, domain.ErrReservationNotNeeded):
		status, code = http.StatusUnprocessableEntity, "RESERVATION_NOT_NEEDED"
	case errors.Is(err, domain.ErrInvalidRating):
		status, code = http.StatusUnprocessableEntity, "REVIEW_RATING_INVALID"
	case errors.Is(err, domain.ErrInventoryInconsistency):
		status, code = http.StatusInternalServerError, "INVENTORY_INCONSISTENT"
	default:
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_IDENTITY_MISSING"
	case http.StatusForbidden:
		return "STAFF_REQUIRED"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
