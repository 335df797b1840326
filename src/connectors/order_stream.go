package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// OrderStream consumes the broker's order update socket and forwards each
// update as an OrderState. It is the push half of reconciliation; the
// status poller covers anything the socket misses. Updates may arrive
// duplicated or out of order, the consumer's state machine absorbs that.
type OrderStream struct {
	endpoint    string
	clientID    string
	accessToken string
	backoff     time.Duration
}

// NewOrderStream builds a stream client for the given socket endpoint.
func NewOrderStream(endpoint, clientID, accessToken string) *OrderStream {
	if endpoint == "" {
		endpoint = "wss://socket.fyers.in/trade/v3"
	}
	return &OrderStream{
		endpoint:    endpoint,
		clientID:    clientID,
		accessToken: accessToken,
		backoff:     5 * time.Second,
	}
}

// streamEnvelope is one socket frame.
type streamEnvelope struct {
	Type   string     `json:"T"`
	Orders fyersOrder `json:"orders"`
}

// Run dials the socket and forwards order updates onto out until ctx is
// cancelled. Connection drops reconnect with a fixed backoff; the caller
// owns the channel and keeps it open.
func (s *OrderStream) Run(ctx context.Context, out chan<- *OrderState) {
	for {
		if err := s.consume(ctx, out); err != nil {
			logger.WithFields(map[string]interface{}{
				"connector": "fyers",
				"op":        "OrderStream.Run",
			}).WithError(err).Warn("Order stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

func (s *OrderStream) consume(ctx context.Context, out chan<- *OrderState) error {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", s.clientID+":"+s.accessToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Subscribe to the order update topic.
	sub := map[string]interface{}{"T": "SUB_ORD", "SLIST": []string{"orderUpdate"}, "SUB_T": 1}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"connector": "fyers",
		"op":        "OrderStream.consume",
		"endpoint":  s.endpoint,
	}).Info("Order stream connected")

	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logger.WithFields(map[string]interface{}{
				"connector": "fyers",
				"op":        "OrderStream.consume",
			}).WithError(err).Debug("Skipping undecodable frame")
			continue
		}

		if env.Type != "ord" || env.Orders.ID == "" {
			continue
		}

		state := mapOrderState(&env.Orders)

		select {
		case out <- state:
		case <-ctx.Done():
			return nil
		}
	}
}
