package handler

import (
	"context"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"algotrader/src/model"
)

type alertLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.Alert, error)
}

type orderLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.Order, error)
}

// RecentAlertsHandler returns a handler that lists the latest alerts,
// newest first. Supports an optional limit query parameter.
func RecentAlertsHandler(repo alertLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		alerts, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("Failed to list recent alerts")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":  len(alerts),
			"alerts": alerts,
		})
	}
}

// RecentOrdersHandler returns a handler that lists the latest orders,
// newest first.
func RecentOrdersHandler(repo orderLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		orders, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("Failed to list recent orders")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":  len(orders),
			"orders": orders,
		})
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}
