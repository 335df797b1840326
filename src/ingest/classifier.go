// Package ingest turns raw webhook bodies into normalized alerts. It
// verifies the request signature, classifies the payload shape and derives
// the deterministic external id that makes ingestion idempotent.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"

	"algotrader/src/model"
)

var (
	// ErrUnrecognizedPayload means the body matched neither the signal nor
	// the scan shape.
	ErrUnrecognizedPayload = errors.New("unrecognized payload shape")

	// ErrMalformedScanPayload means the scan's parallel lists disagree.
	ErrMalformedScanPayload = errors.New("malformed scan payload")
)

// webhookPayload is the superset of both inbound body shapes. Numeric
// fields arrive as JSON numbers or strings depending on the sender, so
// price and quantity use json.Number.
type webhookPayload struct {
	// Signal fields.
	Symbol    string      `json:"symbol"`
	Action    string      `json:"action"`
	Price     json.Number `json:"price"`
	Quantity  json.Number `json:"quantity"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`

	// Scan fields, comma-separated parallel lists.
	Stocks        string `json:"stocks"`
	TriggerPrices string `json:"trigger_prices"`
	TriggeredAt   string `json:"triggered_at"`
	ScanName      string `json:"scan_name"`
	ScanURL       string `json:"scan_url"`
	AlertName     string `json:"alert_name"`
}

// Classify parses and normalizes a verified webhook body into an alert for
// the given account. Scan shape wins when both field sets are present,
// matching the sender's behavior of echoing scan metadata alongside stock
// lists.
func Classify(raw []byte, userID uint) (*model.Alert, error) {
	var p webhookPayload

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		logger.WithFields(map[string]interface{}{
			"module": "ingest",
			"op":     "Classify",
		}).WithError(err).Warn("Webhook body is not valid JSON")

		return nil, ErrUnrecognizedPayload
	}

	switch {
	case p.Stocks != "" || p.ScanName != "":
		return classifyScan(&p, raw, userID)
	case p.Symbol != "" && p.Action != "":
		return classifySignal(&p, raw, userID)
	default:
		return nil, ErrUnrecognizedPayload
	}
}

func classifySignal(p *webhookPayload, raw []byte, userID uint) (*model.Alert, error) {
	exchange, symbol := ParseSymbol(p.Symbol)
	action := normalizeAction(p.Action)

	// Absent numerics are fine: sizing fills in quantity and a missing
	// price falls back to a broker quote. A present but unparseable value
	// is a sender bug and gets rejected like any other malformed payload.
	var price float64
	if p.Price != "" {
		v, err := p.Price.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad price %q", ErrUnrecognizedPayload, p.Price)
		}
		price = v
	}

	var quantity int64
	if p.Quantity != "" {
		v, err := p.Quantity.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad quantity %q", ErrUnrecognizedPayload, p.Quantity)
		}
		quantity = v
	}

	alert := &model.Alert{
		Kind:       model.AlertKindSignal,
		ExternalID: ExternalID(symbol, action, p.Timestamp),
		UserID:     userID,
		Symbol:     symbol,
		Exchange:   exchange,
		Action:     action,
		Price:      price,
		Quantity:   int(quantity),
		Message:    p.Message,
		RawPayload: string(raw),
	}

	logger.WithFields(map[string]interface{}{
		"module":      "ingest",
		"op":          "Classify",
		"kind":        alert.Kind,
		"symbol":      alert.Symbol,
		"action":      alert.Action,
		"external_id": alert.ExternalID,
	}).Debug("Signal payload classified")

	return alert, nil
}

func classifyScan(p *webhookPayload, raw []byte, userID uint) (*model.Alert, error) {
	symbols := splitList(p.Stocks)
	prices := splitList(p.TriggerPrices)

	if len(symbols) != len(prices) {
		logger.WithFields(map[string]interface{}{
			"module":      "ingest",
			"op":          "Classify",
			"scan_name":   p.ScanName,
			"stock_count": len(symbols),
			"price_count": len(prices),
		}).Warn("Scan payload lists have mismatched lengths")

		return nil, fmt.Errorf("%w: %d stocks, %d trigger prices",
			ErrMalformedScanPayload, len(symbols), len(prices))
	}

	alert := &model.Alert{
		Kind:        model.AlertKindScan,
		ExternalID:  ExternalID(p.ScanName, p.TriggeredAt),
		UserID:      userID,
		ScanName:    p.ScanName,
		ScanURL:     p.ScanURL,
		AlertName:   p.AlertName,
		TriggeredAt: p.TriggeredAt,
		RawPayload:  string(raw),
	}

	for i, sym := range symbols {
		price, err := strconv.ParseFloat(prices[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trigger price %q",
				ErrMalformedScanPayload, prices[i])
		}

		_, bare := ParseSymbol(sym)
		alert.Stocks = append(alert.Stocks, model.AlertStock{
			Ordinal:      i,
			Symbol:       bare,
			TriggerPrice: price,
		})
	}

	logger.WithFields(map[string]interface{}{
		"module":      "ingest",
		"op":          "Classify",
		"kind":        alert.Kind,
		"scan_name":   alert.ScanName,
		"stock_count": len(alert.Stocks),
		"external_id": alert.ExternalID,
	}).Debug("Scan payload classified")

	return alert, nil
}

// ExternalID derives the idempotency key from the payload's classifying
// fields. It deliberately excludes anything transport-level, so resending
// the same logical event always maps to the same key.
func ExternalID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ParseSymbol splits an "EXCHANGE:SYMBOL" instrument into its parts.
// A bare symbol defaults to NSE.
func ParseSymbol(s string) (exchange, symbol string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i > 0 {
		return strings.ToUpper(s[:i]), strings.ToUpper(s[i+1:])
	}
	return "NSE", strings.ToUpper(s)
}

// normalizeAction maps the sender's action to one of the known actions.
// Anything unknown falls back to hold, which flows through the pipeline
// without producing an order.
func normalizeAction(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "buy":
		return model.AlertActionBuy
	case "sell":
		return model.AlertActionSell
	default:
		return model.AlertActionHold
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
