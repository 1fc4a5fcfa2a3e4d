package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/labourconnect/backend/internal/middleware"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/validate"
)

func newRouter(t *testing.T, f *fixture) http.Handler {
	t.Helper()
	v, err := validate.New()
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}
	h := NewHandler(f.svc, f.store, v, nil)
	r := chi.NewRouter()
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs/{id}", h.GetJob)
	r.Patch("/jobs/{id}/status", h.SetStatus)
	r.Post("/jobs/{id}/bids", h.PlaceBid)
	r.Post("/jobs/{id}/bids/{bidId}/accept", h.AcceptBid)
	r.Get("/bids/mine", h.MyBids)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string, caller uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req = req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{AccountID: caller}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_JobFlow(t *testing.T) {
	f := newFixture(t)
	h := newRouter(t, f)
	cust := f.customer(t, "+15550004001")
	stranger := f.customer(t, "+15550004002")
	f.provider(t, "+15550004003")
	provAcc, _ := f.store.GetAccountByPhone(t.Context(), "+15550004003")

	rec := call(t, h, http.MethodPost, "/jobs", `{"title":"Paint wall","description":"2 rooms","category":"painting","budget":"1500.50"}`, cust)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var job JobResponse
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Status != models.JobStatusOpen || job.Budget == nil || *job.Budget != "1500.50" {
		t.Fatalf("job: %+v", job)
	}

	rec = call(t, h, http.MethodPost, "/jobs/"+job.ID+"/bids", `{"amount":"1400","message":"can start monday"}`, provAcc.ID)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bid: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var bid BidResponse
	_ = json.NewDecoder(rec.Body).Decode(&bid)
	if bid.Amount != "1400.00" {
		t.Errorf("bid amount: got %q", bid.Amount)
	}

	if rec := call(t, h, http.MethodPost, "/jobs/"+job.ID+"/bids", `{"amount":"1"}`, cust); rec.Code != http.StatusForbidden {
		t.Errorf("customer bidding: expected 403, got %d", rec.Code)
	}

	accept := "/jobs/" + job.ID + "/bids/" + bid.ID + "/accept"
	if rec := call(t, h, http.MethodPost, accept, "", stranger); rec.Code != http.StatusForbidden {
		t.Errorf("non-owner accept: expected 403, got %d", rec.Code)
	}
	if rec := call(t, h, http.MethodPost, accept, "", cust); rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := call(t, h, http.MethodPost, accept, "", cust); rec.Code != http.StatusConflict {
		t.Errorf("second accept: expected 409, got %d", rec.Code)
	}

	if rec := call(t, h, http.MethodPatch, "/jobs/"+job.ID+"/status", `{"status":"open"}`, cust); rec.Code != http.StatusConflict {
		t.Errorf("illegal transition: expected 409, got %d", rec.Code)
	}
	if rec := call(t, h, http.MethodPatch, "/jobs/"+job.ID+"/status", `{"status":"completed"}`, cust); rec.Code != http.StatusOK {
		t.Errorf("complete: expected 200, got %d", rec.Code)
	}

	rec = call(t, h, http.MethodGet, "/bids/mine", "", provAcc.ID)
	var mine []BidResponse
	_ = json.NewDecoder(rec.Body).Decode(&mine)
	if len(mine) != 1 || mine[0].Status != models.BidStatusAccepted {
		t.Errorf("my bids: %+v", mine)
	}
}

func TestHandler_BadInput(t *testing.T) {
	f := newFixture(t)
	h := newRouter(t, f)
	cust := f.customer(t, "+15550004004")

	if rec := call(t, h, http.MethodGet, "/jobs/not-a-uuid", "", cust); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
	if rec := call(t, h, http.MethodGet, "/jobs/"+uuid.NewString(), "", cust); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", rec.Code)
	}
	if rec := call(t, h, http.MethodPost, "/jobs", `{"title":"x","description":"y","category":"z","budget":"1.999"}`, cust); rec.Code != http.StatusBadRequest {
		t.Errorf("three-digit budget: expected 400, got %d", rec.Code)
	}
}
