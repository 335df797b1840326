package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"algotrader/src/ingest"
	"algotrader/src/model"
)

const testSecret = "webhook-secret"

type fakeAlertStore struct {
	existing map[string]*model.Alert
	nextID   uint
	created  []*model.Alert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{existing: map[string]*model.Alert{}, nextID: 1}
}

func (f *fakeAlertStore) CreateIdempotent(_ context.Context, alert *model.Alert) (*model.Alert, bool, error) {
	if prior, ok := f.existing[alert.ExternalID]; ok {
		return prior, false, nil
	}
	alert.ID = f.nextID
	f.nextID++
	f.existing[alert.ExternalID] = alert
	f.created = append(f.created, alert)
	return alert, true, nil
}

type fakeDispatch struct {
	enqueued []uint
}

func (f *fakeDispatch) Enqueue(_ context.Context, alertID uint, _ uint) error {
	f.enqueued = append(f.enqueued, alertID)
	return nil
}

func postWebhook(t *testing.T, h http.HandlerFunc, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/alerts", strings.NewReader(body))
	if sign {
		req.Header.Set(ingest.SignatureHeader, ingest.Sign([]byte(body), testSecret))
	}

	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	t.Helper()

	var resp webhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := newFakeAlertStore()
	dispatch := &fakeDispatch{}
	h := WebhookAlertHandler(store, dispatch, testSecret, 1)

	rec := postWebhook(t, h, `{"symbol":"SBIN","action":"buy"}`, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(store.created) != 0 {
		t.Error("unauthenticated payload must not be persisted")
	}
}

func TestWebhookRejectsUnrecognizedShape(t *testing.T) {
	h := WebhookAlertHandler(newFakeAlertStore(), &fakeDispatch{}, testSecret, 1)

	rec := postWebhook(t, h, `{"foo":"bar"}`, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedScan(t *testing.T) {
	store := newFakeAlertStore()
	h := WebhookAlertHandler(store, &fakeDispatch{}, testSecret, 1)

	body := `{"stocks":"A,B","trigger_prices":"1.0,2.0,3.0","scan_name":"s","triggered_at":"x"}`
	rec := postWebhook(t, h, body, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(store.created) != 0 {
		t.Error("malformed scan must not be persisted")
	}
}

func TestWebhookAcceptsAndEnqueuesSignal(t *testing.T) {
	store := newFakeAlertStore()
	dispatch := &fakeDispatch{}
	h := WebhookAlertHandler(store, dispatch, testSecret, 1)

	rec := postWebhook(t, h, `{"symbol":"NSE:RELIANCE","action":"BUY","price":2500.50,"quantity":10}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	resp := decodeResponse(t, rec)
	if resp.Status != "accepted" {
		t.Errorf("expected accepted, got %s", resp.Status)
	}
	if resp.AlertID == 0 {
		t.Error("expected an alert id")
	}
	if len(dispatch.enqueued) != 1 {
		t.Errorf("signal not enqueued: %v", dispatch.enqueued)
	}
}

func TestWebhookDuplicateReturnsExistingAlert(t *testing.T) {
	store := newFakeAlertStore()
	dispatch := &fakeDispatch{}
	h := WebhookAlertHandler(store, dispatch, testSecret, 1)

	body := `{"symbol":"NSE:RELIANCE","action":"BUY","price":2500.50,"quantity":10}`

	first := decodeResponse(t, postWebhook(t, h, body, true))

	rec := postWebhook(t, h, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate must answer 200, got %d", rec.Code)
	}

	second := decodeResponse(t, rec)
	if second.Status != "duplicate" {
		t.Errorf("expected duplicate status, got %s", second.Status)
	}
	if second.AlertID != first.AlertID {
		t.Errorf("duplicate must return the original alert id: %d vs %d",
			second.AlertID, first.AlertID)
	}
	if len(dispatch.enqueued) != 1 {
		t.Errorf("duplicate must not enqueue again: %v", dispatch.enqueued)
	}
}

func TestWebhookScanIsNeverEnqueued(t *testing.T) {
	store := newFakeAlertStore()
	dispatch := &fakeDispatch{}
	h := WebhookAlertHandler(store, dispatch, testSecret, 1)

	body := `{"stocks":"SBIN,TCS","trigger_prices":"800.5,3900.0","scan_name":"breakout","triggered_at":"2026-08-21T09:30:00Z"}`
	rec := postWebhook(t, h, body, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(dispatch.enqueued) != 0 {
		t.Error("scan alerts must never reach the dispatch queue")
	}
	if len(store.created) != 1 {
		t.Fatal("scan alert must be persisted")
	}
	if store.created[0].Status != "" && store.created[0].Status != model.AlertStatusReceived {
		t.Errorf("scan alert must stay received, got %q", store.created[0].Status)
	}
}
