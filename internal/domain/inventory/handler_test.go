package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandlerDispense_Success(t *testing.T) {
	repo := newMockRepo()
	h := NewHandler(NewService(repo))
	item := seedItem(t, repo, "Amoxicillin", 10)

	c, rec := newTestContext(t, http.MethodPost, "/stock-items/"+item.ID.String()+"/dispense",
		`{"quantity": 3, "recipient_name": "John Doe"}`)
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())

	if err := h.Dispense(c); err != nil {
		t.Fatalf("dispense handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if etag := rec.Header().Get("ETag"); etag != `W/"2"` {
		t.Errorf("expected ETag W/\"2\", got %q", etag)
	}
	var got StockItem
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.QuantityInStock != 7 {
		t.Errorf("expected quantity 7 in response, got %d", got.QuantityInStock)
	}
}

func TestHandlerDispense_StatusMapping(t *testing.T) {
	repo := newMockRepo()
	h := NewHandler(NewService(repo))
	item := seedItem(t, repo, "Insulin", 2)

	cases := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"invalid id", "not-a-uuid", `{"quantity": 1}`, http.StatusBadRequest},
		{"zero quantity", item.ID.String(), `{"quantity": 0}`, http.StatusBadRequest},
		{"unknown item", uuid.NewString(), `{"quantity": 1}`, http.StatusNotFound},
		{"insufficient stock", item.ID.String(), `{"quantity": 5}`, http.StatusConflict},
	}
	for _, tc := range cases {
		c, _ := newTestContext(t, http.MethodPost, "/stock-items/"+tc.id+"/dispense", tc.body)
		c.SetParamNames("id")
		c.SetParamValues(tc.id)

		err := h.Dispense(c)
		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) {
			t.Errorf("%s: expected HTTP error, got %v", tc.name, err)
			continue
		}
		if httpErr.Code != tc.want {
			t.Errorf("%s: expected status %d, got %d", tc.name, tc.want, httpErr.Code)
		}
	}
}

func TestHandlerDispense_ConflictAfterRetries(t *testing.T) {
	repo := &conflictingRepo{mockRepo: newMockRepo(), conflicts: 100}
	h := NewHandler(NewService(repo))
	item := seedItem(t, repo.mockRepo, "Amoxicillin", 10)

	c, _ := newTestContext(t, http.MethodPost, "/stock-items/"+item.ID.String()+"/dispense",
		`{"quantity": 1}`)
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())

	err := h.Dispense(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 after retry budget, got %v", err)
	}
}

func TestHandlerDispenseBatch(t *testing.T) {
	repo := newMockRepo()
	h := NewHandler(NewService(repo))
	amox := seedItem(t, repo, "Amoxicillin", 10)
	scarce := seedItem(t, repo, "Insulin", 1)

	body := `{"prescriptions": [
		{"medicine_id": "` + amox.ID.String() + `", "quantity": 2},
		{"medicine_id": "` + scarce.ID.String() + `", "quantity": 5}
	]}`
	c, _ := newTestContext(t, http.MethodPost, "/prescriptions/dispense", body)

	err := h.DispenseBatch(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient batch, got %v", err)
	}
	got, _ := repo.GetByID(context.Background(), amox.ID)
	if got.QuantityInStock != 10 {
		t.Error("expected failed batch to leave stock untouched")
	}

	body = `{"prescriptions": [{"medicine_id": "` + amox.ID.String() + `", "quantity": 2}]}`
	c, rec := newTestContext(t, http.MethodPost, "/prescriptions/dispense", body)
	if err := h.DispenseBatch(c); err != nil {
		t.Fatalf("batch handler: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestHandlerRestock(t *testing.T) {
	repo := newMockRepo()
	h := NewHandler(NewService(repo))

	c, rec := newTestContext(t, http.MethodPost, "/stock-items/restock",
		`{"name": "Amoxicillin", "unit": "tablets", "expiry_date": "2027-03-15T00:00:00Z", "quantity": 20}`)
	if err := h.Restock(c); err != nil {
		t.Fatalf("restock handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newTestContext(t, http.MethodPost, "/stock-items/restock",
		`{"name": "", "quantity": 20}`)
	err := h.Restock(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %v", err)
	}
}

func TestHandlerAudit(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	h := NewHandler(svc)
	item := seedItem(t, repo, "Amoxicillin", 10)
	if _, err := svc.Dispense(context.Background(), item.ID, 2, nil, "John Doe", nil, ""); err != nil {
		t.Fatal(err)
	}

	c, rec := newTestContext(t, http.MethodGet, "/dispense-audit", "")
	if err := h.Audit(c); err != nil {
		t.Fatalf("audit handler: %v", err)
	}
	var resp struct {
		Entries []*AuditEntry `json:"entries"`
		Total   int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Entries) != 1 {
		t.Fatalf("expected one audit entry, got %+v", resp)
	}
	if resp.Entries[0].SourceLabel != "Manual dispense" {
		t.Errorf("expected display label, got %q", resp.Entries[0].SourceLabel)
	}

	c, _ = newTestContext(t, http.MethodGet, "/dispense-audit?from=yesterday", "")
	err := h.Audit(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed timestamp, got %v", err)
	}
}

func TestHandlerAuditReport(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	h := NewHandler(svc)
	item := seedItem(t, repo, "Amoxicillin", 10)
	if _, err := svc.Dispense(context.Background(), item.ID, 2, nil, "John Doe", nil, ""); err != nil {
		t.Fatal(err)
	}

	c, rec := newTestContext(t, http.MethodGet, "/dispense-audit/report", "")
	if err := h.AuditReport(c); err != nil {
		t.Fatalf("report handler: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Dispense Report") {
		t.Error("expected plain-text report body")
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentType), "text/plain") {
		t.Errorf("expected text/plain, got %q", rec.Header().Get(echo.HeaderContentType))
	}
}

func TestHandlerGetAndDelete(t *testing.T) {
	repo := newMockRepo()
	h := NewHandler(NewService(repo))
	item := seedItem(t, repo, "Amoxicillin", 10)

	c, rec := newTestContext(t, http.MethodGet, "/stock-items/"+item.ID.String(), "")
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("get handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, rec = newTestContext(t, http.MethodDelete, "/stock-items/"+item.ID.String(), "")
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if err := h.Delete(c); err != nil {
		t.Fatalf("delete handler: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newTestContext(t, http.MethodGet, "/stock-items/"+item.ID.String(), "")
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	err := h.Get(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %v", err)
	}
}
