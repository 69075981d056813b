package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"biblio/internal/app"
	"biblio/pkg/domain"
	"biblio/pkg/store"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	core, err := app.New(app.Config{
		Store: store.NewMemoryStore(),
		Now:   func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: core})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func staffHeaders(id string) map[string]string {
	return map[string]string{"X-User-Id": id, "X-User-Name": "Staff " + id, "X-User-Staff": "true"}
}

func memberHeaders(id string) map[string]string {
	return map[string]string{"X-User-Id": id, "X-User-Name": "Member " + id}
}

func createBookHTTP(t *testing.T, h http.Handler, copies int) domain.Book {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/books", map[string]any{
		"title":       "The Count of Monte Cristo",
		"isbn":        "9780140449266",
		"authors":     "Alexandre Dumas",
		"totalCopies": copies,
	}, staffHeaders("s1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create book: status %d body %s", rec.Code, rec.Body.String())
	}
	var book domain.Book
	if err := json.Unmarshal(rec.Body.Bytes(), &book); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	return book
}

func TestHealthRouteNeedsNoIdentity(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIdentityHeaderRequired(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/books", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "AUTH_IDENTITY_MISSING" {
		t.Fatalf("unexpected code %q", resp.Code)
	}
}

func TestBookCreateRequiresStaff(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/books", map[string]any{
		"title": "x", "isbn": "1", "authors": "a", "totalCopies": 1,
	}, memberHeaders("u1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestBorrowAndReturnFlow(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 1)

	rec := doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/borrow", nil, memberHeaders("u1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow: status %d body %s", rec.Code, rec.Body.String())
	}
	var loan domain.Loan
	if err := json.Unmarshal(rec.Body.Bytes(), &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}

	// Second borrower hits the empty shelf.
	rec = doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/borrow", nil, memberHeaders("u2"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", rec.Code, rec.Body.String())
	}
	var errResp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Code != "BOOK_UNAVAILABLE" {
		t.Fatalf("unexpected code %q", errResp.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/loans/"+loan.ID+"/return", nil, memberHeaders("u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("return: status %d body %s", rec.Code, rec.Body.String())
	}

	// Returning again is a state conflict.
	rec = doJSON(t, h, http.MethodPost, "/loans/"+loan.ID+"/return", nil, memberHeaders("u1"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestLoanHiddenFromOtherMembers(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 1)

	rec := doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/borrow", nil, memberHeaders("u1"))
	var loan domain.Loan
	if err := json.Unmarshal(rec.Body.Bytes(), &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}

	if rec := doJSON(t, h, http.MethodGet, "/loans/"+loan.ID, nil, memberHeaders("u2")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for stranger, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/loans/"+loan.ID, nil, staffHeaders("s1")); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/loans/"+loan.ID+"/history", nil, memberHeaders("u1")); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 history for owner, got %d", rec.Code)
	}
}

func TestReserveWhenUnavailableOnly(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 1)

	rec := doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reserve", nil, memberHeaders("u2"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 while copies remain, got %d", rec.Code)
	}

	doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/borrow", nil, memberHeaders("u1"))

	rec = doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reserve", nil, memberHeaders("u2"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve: status %d body %s", rec.Code, rec.Body.String())
	}
	var res domain.Reservation
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode reservation: %v", err)
	}

	// A second pending reservation by the same member conflicts.
	rec = doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reserve", nil, memberHeaders("u2"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate, got %d", rec.Code)
	}

	// Staff marks it available, the member's list shows it.
	rec = doJSON(t, h, http.MethodPost, "/reservations/"+res.ID+"/available", nil, staffHeaders("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("available: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/reservations", nil, memberHeaders("u2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("list reservations: %d", rec.Code)
	}
	var list struct {
		Items []domain.Reservation `json:"items"`
		Count int                  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Items[0].Status != domain.ReservationAvailable {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestCancelReservationOwnership(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 1)
	doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/borrow", nil, memberHeaders("u1"))

	rec := doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reserve", nil, memberHeaders("u2"))
	var res domain.Reservation
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode reservation: %v", err)
	}

	if rec := doJSON(t, h, http.MethodPost, "/reservations/"+res.ID+"/cancel", nil, memberHeaders("u3")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for stranger cancel, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/reservations/"+res.ID+"/cancel", nil, memberHeaders("u2")); rec.Code != http.StatusOK {
		t.Fatalf("owner cancel: %d", rec.Code)
	}
}

func TestStaffRoutesGated(t *testing.T) {
	_, h := newTestServer(t)
	routes := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/loans/overdue"},
		{http.MethodGet, "/loans/unreturned"},
		{http.MethodPost, "/admin/reservations/expire"},
	}
	for _, tc := range routes {
		rec := doJSON(t, h, tc.method, tc.target, nil, memberHeaders("u1"))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.target, rec.Code)
		}
		rec = doJSON(t, h, tc.method, tc.target, nil, staffHeaders("s1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200 for staff, got %d body %s", tc.method, tc.target, rec.Code, rec.Body.String())
		}
	}
}

func TestMarkLostStaffOnly(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 1)
	rec := doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/borrow", nil, memberHeaders("u1"))
	var loan domain.Loan
	if err := json.Unmarshal(rec.Body.Bytes(), &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}

	if rec := doJSON(t, h, http.MethodPost, "/loans/"+loan.ID+"/lost", nil, memberHeaders("u1")); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/loans/"+loan.ID+"/lost", map[string]string{"notes": "left on a train"}, staffHeaders("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("lost: status %d body %s", rec.Code, rec.Body.String())
	}
	var lost domain.Loan
	if err := json.Unmarshal(rec.Body.Bytes(), &lost); err != nil {
		t.Fatalf("decode lost loan: %v", err)
	}
	if lost.Status != domain.LoanLost {
		t.Fatalf("expected lost, got %q", lost.Status)
	}
}

func TestUpdateAndUnlistBook(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 2)

	rec := doJSON(t, h, http.MethodPut, "/books/"+book.ID, map[string]any{
		"title":       book.Title,
		"isbn":        book.ISBN,
		"authors":     book.Authors,
		"totalCopies": 3,
	}, staffHeaders("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	var updated domain.Book
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if updated.TotalCopies != 3 || updated.AvailableCopies != 3 {
		t.Fatalf("unexpected counters: %+v", updated)
	}

	rec = doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/active", map[string]bool{"active": false}, staffHeaders("s1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", rec.Code)
	}
	// Members no longer see the unlisted title.
	if rec := doJSON(t, h, http.MethodGet, "/books/"+book.ID, nil, memberHeaders("u1")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for member, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/books/"+book.ID, nil, staffHeaders("s1")); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff, got %d", rec.Code)
	}
}

func TestListBooksPaging(t *testing.T) {
	_, h := newTestServer(t)
	for i := 0; i < 3; i++ {
		doJSON(t, h, http.MethodPost, "/books", map[string]any{
			"title":       fmt.Sprintf("Volume %d", i),
			"isbn":        fmt.Sprintf("isbn-%d", i),
			"authors":     "Various",
			"totalCopies": 1,
		}, staffHeaders("s1"))
	}
	rec := doJSON(t, h, http.MethodGet, "/books?limit=2", nil, memberHeaders("u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var page struct {
		Items []domain.Book `json:"items"`
		Total int64         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Items) != 2 || page.Total != 3 {
		t.Fatalf("unexpected page: items=%d total=%d", len(page.Items), page.Total)
	}
}

func TestUnknownRoutes(t *testing.T) {
	_, h := newTestServer(t)
	if rec := doJSON(t, h, http.MethodGet, "/books/abc/def/ghi", nil, memberHeaders("u1")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodDelete, "/loans/abc", nil, memberHeaders("u1")); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestBookReviewFlow(t *testing.T) {
	_, h := newTestServer(t)
	book := createBookHTTP(t, h, 1)

	rec := doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reviews",
		map[string]any{"rating": 0}, memberHeaders("m1"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rating 0: expected 422, got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reviews",
		map[string]any{"rating": 4, "comment": "solid"}, memberHeaders("m1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("post review: expected 201, got %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/books/"+book.ID+"/reviews",
		map[string]any{"rating": 2}, memberHeaders("m2"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("post second review: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/books/"+book.ID+"/reviews", nil, memberHeaders("m3"))
	if rec.Code != http.StatusOK {
		t.Fatalf("list reviews: expected 200, got %d", rec.Code)
	}
	var summary struct {
		Items         []domain.Review `json:"items"`
		Count         int             `json:"count"`
		AverageRating float64         `json:"averageRating"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Count != 2 || len(summary.Items) != 2 {
		t.Fatalf("expected 2 reviews, got %+v", summary)
	}
	if summary.AverageRating != 3 {
		t.Fatalf("expected average 3, got %v", summary.AverageRating)
	}

	rec = doJSON(t, h, http.MethodGet, "/books/no-such-book/reviews", nil, memberHeaders("m1"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown book: expected 404, got %d", rec.Code)
	}
}
