package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"algotrader/src/ingest"
	"algotrader/src/model"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type alertCreator interface {
	CreateIdempotent(ctx context.Context, alert *model.Alert) (*model.Alert, bool, error)
}

type alertEnqueuer interface {
	Enqueue(ctx context.Context, alertID uint, userID uint) error
}

// webhookResponse is the synchronous answer to the sender. Processing
// happens after this response; its outcome is visible on the alert record,
// not here.
type webhookResponse struct {
	Status     string `json:"status"`
	AlertID    uint   `json:"alert_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WebhookAlertHandler returns the inbound webhook endpoint. It verifies the
// signature, classifies and persists the payload, and enqueues signal
// alerts for dispatch. Duplicates answer 200 with the existing alert, bad
// signatures answer 401 before anything is persisted, unrecognized shapes
// answer 400.
func WebhookAlertHandler(
	alerts alertCreator,
	dispatch alertEnqueuer,
	secret string,
	accountUserID uint,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, webhookResponse{
				Status: "error", Error: "unreadable body",
			})
			return
		}

		if !ingest.VerifySignature(body, r.Header.Get(ingest.SignatureHeader), secret) {
			logger.WithField("remote", r.RemoteAddr).
				Warn("Webhook signature verification failed")
			writeJSON(w, http.StatusUnauthorized, webhookResponse{
				Status: "error", Error: "invalid signature",
			})
			return
		}

		alert, err := ingest.Classify(body, accountUserID)
		if err != nil {
			status := "error"
			switch {
			case errors.Is(err, ingest.ErrMalformedScanPayload):
				logger.WithError(err).Warn("Malformed scan payload")
			case errors.Is(err, ingest.ErrUnrecognizedPayload):
				logger.Warn("Unrecognized webhook payload shape")
			}
			writeJSON(w, http.StatusBadRequest, webhookResponse{
				Status: status, Error: err.Error(),
			})
			return
		}

		stored, created, err := alerts.CreateIdempotent(r.Context(), alert)
		if err != nil {
			logger.WithError(err).Error("Failed to persist alert")
			writeJSON(w, http.StatusInternalServerError, webhookResponse{
				Status: "error", Error: "persistence failure",
			})
			return
		}

		if !created {
			writeJSON(w, http.StatusOK, webhookResponse{
				Status:     "duplicate",
				AlertID:    stored.ID,
				ExternalID: stored.ExternalID,
			})
			return
		}

		// Scans terminate at received; only signals dispatch.
		if stored.Kind == model.AlertKindSignal {
			if err := dispatch.Enqueue(r.Context(), stored.ID, stored.UserID); err != nil {
				// The alert is committed; the stuck-alert sweep will pick
				// it up if this enqueue is lost.
				logger.WithField("alert_id", stored.ID).
					WithError(err).Error("Failed to enqueue alert")
			}
		}

		writeJSON(w, http.StatusOK, webhookResponse{
			Status:     "accepted",
			AlertID:    stored.ID,
			ExternalID: stored.ExternalID,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("Failed to write response")
	}
}
