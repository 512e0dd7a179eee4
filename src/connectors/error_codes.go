package connectors

import "fmt"

// MT5 trade server return codes.
const (
	RetcodeDone           = 10009
	RetcodeDonePartial    = 10010
	RetcodePositionClosed = 10036
)

// MT5RetcodeText maps MT5 trade server return codes to human-readable messages.
var MT5RetcodeText = map[int]string{
	10004: "TRADE_RETCODE_REQUOTE",              // Requote
	10006: "TRADE_RETCODE_REJECT",               // Request rejected
	10007: "TRADE_RETCODE_CANCEL",               // Request canceled by trader
	10008: "TRADE_RETCODE_PLACED",               // Order placed
	10009: "TRADE_RETCODE_DONE",                 // Request completed
	10010: "TRADE_RETCODE_DONE_PARTIAL",         // Only part of the request was completed
	10011: "TRADE_RETCODE_ERROR",                // Request processing error
	10012: "TRADE_RETCODE_TIMEOUT",              // Request canceled by timeout
	10013: "TRADE_RETCODE_INVALID",              // Invalid request
	10014: "TRADE_RETCODE_INVALID_VOLUME",       // Invalid volume in the request
	10015: "TRADE_RETCODE_INVALID_PRICE",        // Invalid price in the request
	10016: "TRADE_RETCODE_INVALID_STOPS",        // Invalid stops in the request
	10017: "TRADE_RETCODE_TRADE_DISABLED",       // Trade is disabled
	10018: "TRADE_RETCODE_MARKET_CLOSED",        // Market is closed
	10019: "TRADE_RETCODE_NO_MONEY",             // Not enough money
	10020: "TRADE_RETCODE_PRICE_CHANGED",        // Prices changed
	10021: "TRADE_RETCODE_PRICE_OFF",            // No quotes to process the request
	10022: "TRADE_RETCODE_INVALID_EXPIRATION",   // Invalid order expiration date
	10023: "TRADE_RETCODE_ORDER_CHANGED",        // Order state changed
	10024: "TRADE_RETCODE_TOO_MANY_REQUESTS",    // Too frequent requests
	10025: "TRADE_RETCODE_NO_CHANGES",           // No changes in request
	10026: "TRADE_RETCODE_SERVER_DISABLES_AT",   // Autotrading disabled by server
	10027: "TRADE_RETCODE_CLIENT_DISABLES_AT",   // Autotrading disabled by client terminal
	10028: "TRADE_RETCODE_LOCKED",               // Request locked for processing
	10029: "TRADE_RETCODE_FROZEN",               // Order or position frozen
	10030: "TRADE_RETCODE_INVALID_FILL",         // Invalid order filling type
	10031: "TRADE_RETCODE_CONNECTION",           // No connection with the trade server
	10032: "TRADE_RETCODE_ONLY_REAL",            // Operation allowed only for live accounts
	10033: "TRADE_RETCODE_LIMIT_ORDERS",         // Pending orders limit reached
	10034: "TRADE_RETCODE_LIMIT_VOLUME",         // Volume limit for the symbol reached
	10035: "TRADE_RETCODE_INVALID_ORDER",        // Incorrect or prohibited order type
	10036: "TRADE_RETCODE_POSITION_CLOSED",      // Position already closed
	10038: "TRADE_RETCODE_INVALID_CLOSE_VOLUME", // Close volume exceeds position volume
	10039: "TRADE_RETCODE_CLOSE_ORDER_EXIST",    // A close order already exists
	10040: "TRADE_RETCODE_LIMIT_POSITIONS",      // Open positions limit reached
	10041: "TRADE_RETCODE_REJECT_CANCEL",        // Pending order activation rejected
	10042: "TRADE_RETCODE_LONG_ONLY",            // Only long positions allowed
	10043: "TRADE_RETCODE_SHORT_ONLY",           // Only short positions allowed
	10044: "TRADE_RETCODE_CLOSE_ONLY",           // Only position closing allowed
	10045: "TRADE_RETCODE_FIFO_CLOSE",           // Close allowed only by FIFO rule
	10046: "TRADE_RETCODE_HEDGE_PROHIBITED",     // Opposite positions prohibited
}

// GetRetcodeMsg returns a human-readable message for a given MT5 return code.
// If the code is unknown, returns a generic message including the code.
func GetRetcodeMsg(code int) string {
	if msg, ok := MT5RetcodeText[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_MT5_RETCODE_%d", code)
}
