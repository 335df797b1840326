// REST API CLIENT FOR FYERS EQUITY TRADING
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"algotrader/src/model"
)

const (
	// Default retry configuration
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// BrokerError is a response the broker itself produced. Transient errors
// (throttling, upstream hiccups) may be retried; terminal errors
// (rejections, bad symbols, margin) must not be.
type BrokerError struct {
	HTTPStatus int
	Code       int
	Message    string
	Transient  bool
}

func (e *BrokerError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("broker %s error %s: %s", kind, DescribeBrokerCode(e.Code), e.Message)
}

// IsTransientBrokerError reports whether err may be retried. Plain
// transport errors count as transient: the request may never have reached
// the broker.
func IsTransientBrokerError(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Transient
	}
	return err != nil
}

// apiResponse is the broker's envelope: s is "ok" or "error".
type apiResponse struct {
	S       string          `json:"s"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	ID      string          `json:"id"`
	Data    json.RawMessage `json:"data"`
}

// OrderRequest is one order to submit.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Exchange      string
	Side          string
	OrderType     string
	Quantity      int64
	LimitPrice    float64
}

// OrderState is the broker's current view of an order, already mapped into
// the local status vocabulary.
type OrderState struct {
	BrokerOrderID  string
	Status         string
	BrokerStatus   string
	Message        string
	FilledQuantity int64
	AveragePrice   float64
}

type FyersClient struct {
	clientID    string
	accessToken string
	baseURL     string
	http        *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewFyersClient(clientID, accessToken, baseURL string) *FyersClient {
	retryCount := defaultRetryAttempts - 1

	if baseURL == "" {
		baseURL = "https://api-t1.fyers.in/api/v3"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &FyersClient{
		clientID:    clientID,
		accessToken: accessToken,
		baseURL:     baseURL,
		http:        httpClient,
	}
}

func (c *FyersClient) doRequest(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", fmt.Sprintf("%s:%s", c.clientID, c.accessToken))

	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	var apiResp apiResponse
	if uerr := json.Unmarshal(raw, &apiResp); uerr != nil {
		if resp.StatusCode() != 200 {
			return nil, &BrokerError{
				HTTPStatus: resp.StatusCode(),
				Message:    string(raw),
				Transient:  resp.StatusCode() >= 500 || resp.StatusCode() == 429,
			}
		}
		return nil, uerr
	}

	if resp.StatusCode() != 200 || apiResp.S == "error" {
		return nil, &BrokerError{
			HTTPStatus: resp.StatusCode(),
			Code:       apiResp.Code,
			Message:    apiResp.Message,
			Transient:  resp.StatusCode() >= 500 || resp.StatusCode() == 429,
		}
	}

	return &apiResp, nil
}

// FormatInstrument renders the broker's instrument notation for an equity
// symbol, e.g. NSE:RELIANCE-EQ.
func FormatInstrument(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s-EQ", exchange, symbol)
}

// Broker order type and side codes.
const (
	fyersTypeLimit  = 1
	fyersTypeMarket = 2
	fyersSideBuy    = 1
	fyersSideSell   = -1
)

// PlaceOrder submits a new order and returns the broker's order id. The
// client order id travels with the request so a retried submission maps
// back to the same order.
func (c *FyersClient) PlaceOrder(ctx context.Context, order OrderRequest) (string, error) {
	side := fyersSideBuy
	if order.Side == model.OrderSideSell {
		side = fyersSideSell
	}

	ordType := fyersTypeMarket
	limitPrice := 0.0
	if order.OrderType == model.OrderTypeLimit {
		ordType = fyersTypeLimit
		limitPrice = order.LimitPrice
	}

	body := map[string]interface{}{
		"symbol":       FormatInstrument(order.Exchange, order.Symbol),
		"qty":          order.Quantity,
		"type":         ordType,
		"side":         side,
		"productType":  "CNC",
		"limitPrice":   limitPrice,
		"stopPrice":    0,
		"validity":     "DAY",
		"disclosedQty": 0,
		"offlineOrder": false,
		"orderTag":     order.ClientOrderID,
	}

	resp, err := c.doRequest(ctx, "POST", "/orders/sync", body)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"connector":       "fyers",
			"op":              "PlaceOrder",
			"symbol":          order.Symbol,
			"side":            order.Side,
			"client_order_id": order.ClientOrderID,
		}).WithError(err).Error("Order submission failed")

		return "", err
	}

	logger.WithFields(map[string]interface{}{
		"connector":       "fyers",
		"op":              "PlaceOrder",
		"symbol":          order.Symbol,
		"side":            order.Side,
		"quantity":        order.Quantity,
		"broker_order_id": resp.ID,
		"client_order_id": order.ClientOrderID,
	}).Info("Order submitted")

	return resp.ID, nil
}

// fyersOrder is one row of the broker's order book.
type fyersOrder struct {
	ID          string  `json:"id"`
	Status      int     `json:"status"`
	Message     string  `json:"message"`
	FilledQty   int64   `json:"filledQty"`
	Qty         int64   `json:"qty"`
	TradedPrice float64 `json:"tradedPrice"`
	AvgPrice    float64 `json:"avgPrice"`
}

// Broker order status codes.
const (
	fyersStatusCancelled = 1
	fyersStatusFilled    = 2
	fyersStatusTransit   = 4
	fyersStatusRejected  = 5
	fyersStatusPending   = 6
)

func mapOrderState(o *fyersOrder) *OrderState {
	state := &OrderState{
		BrokerOrderID:  o.ID,
		BrokerStatus:   fmt.Sprintf("%d", o.Status),
		Message:        o.Message,
		FilledQuantity: o.FilledQty,
		AveragePrice:   o.AvgPrice,
	}
	if state.AveragePrice == 0 {
		state.AveragePrice = o.TradedPrice
	}

	switch o.Status {
	case fyersStatusFilled:
		state.Status = model.OrderStatusFilled
	case fyersStatusCancelled:
		state.Status = model.OrderStatusCancelled
	case fyersStatusRejected:
		state.Status = model.OrderStatusRejected
	case fyersStatusTransit, fyersStatusPending:
		if o.FilledQty > 0 && o.FilledQty < o.Qty {
			state.Status = model.OrderStatusPartiallyFilled
		} else {
			state.Status = model.OrderStatusAcknowledged
		}
	default:
		state.Status = model.OrderStatusAcknowledged
	}

	return state
}

// GetOrderStatus fetches the broker's view of one order.
func (c *FyersClient) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderState, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/orders?id=%s", brokerOrderID), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		OrderBook []fyersOrder `json:"orderBook"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.OrderBook) == 0 {
		return nil, &BrokerError{
			Code:    resp.Code,
			Message: fmt.Sprintf("order %s not found at broker", brokerOrderID),
		}
	}

	return mapOrderState(&parsed.OrderBook[0]), nil
}

// CancelOrder asks the broker to cancel an open order.
func (c *FyersClient) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/orders/%s", brokerOrderID), nil)
	return err
}

// GetFunds returns the available equity capital, used as the capital
// snapshot for percentage-of-capital sizing.
func (c *FyersClient) GetFunds(ctx context.Context) (float64, error) {
	resp, err := c.doRequest(ctx, "GET", "/funds", nil)
	if err != nil {
		return 0, err
	}

	var parsed struct {
		FundLimit []struct {
			Title        string  `json:"title"`
			EquityAmount float64 `json:"equityAmount"`
		} `json:"fund_limit"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return 0, err
	}

	for _, f := range parsed.FundLimit {
		if f.Title == "Available Balance" {
			return f.EquityAmount, nil
		}
	}

	return 0, errors.New("available balance not present in funds response")
}

// GetQuote returns the last traded price for an instrument.
func (c *FyersClient) GetQuote(ctx context.Context, exchange, symbol string) (float64, error) {
	instrument := FormatInstrument(exchange, symbol)

	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/quotes?symbols=%s", instrument), nil)
	if err != nil {
		return 0, err
	}

	var parsed struct {
		D []struct {
			V struct {
				LP float64 `json:"lp"`
			} `json:"v"`
		} `json:"d"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return 0, err
	}
	if len(parsed.D) == 0 {
		return 0, fmt.Errorf("no quote returned for %s", instrument)
	}

	return parsed.D[0].V.LP, nil
}
