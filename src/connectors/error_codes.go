package connectors

import "fmt"

// FyersErrorCodes maps broker error codes to human-readable messages.
var FyersErrorCodes = map[int]string{
	-50:   "INVALID_SYMBOL",     // Symbol not tradable or unknown
	-99:   "INVALID_ORDER_ID",   // Order id not recognized
	-101:  "INVALID_INPUT",      // Malformed order payload
	-201:  "CONNECTION_ERROR",   // Upstream exchange link down
	-300:  "INVALID_AUTH",       // Token expired or revoked
	-352:  "PRICE_OUT_OF_RANGE", // Limit price outside circuit band
	-353:  "QTY_EXCEEDS_FREEZE", // Quantity above freeze limit
	-392:  "PRICE_NOT_IN_TICK",  // Price not a tick multiple
	-1093: "INSUFFICIENT_FUNDS", // Not enough margin for the order
	-1101: "MARKET_CLOSED",      // Orders not accepted in this session
}

// DescribeBrokerCode renders a broker error code with its known name.
func DescribeBrokerCode(code int) string {
	if name, ok := FyersErrorCodes[code]; ok {
		return fmt.Sprintf("%d (%s)", code, name)
	}
	return fmt.Sprintf("%d", code)
}
