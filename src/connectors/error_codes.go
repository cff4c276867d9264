package connectors

import "fmt"

const codeNoNeedToChangeMarginType = -4046

// BinanceErrorCodes maps Binance futures error codes to their short names.
var BinanceErrorCodes = map[int]string{
	-1000: "UNKNOWN",                            // Unknown error while processing the request
	-1001: "DISCONNECTED",                       // Internal error; unable to process
	-1003: "TOO_MANY_REQUESTS",                  // Request weight limit exceeded
	-1007: "TIMEOUT",                            // Backend timeout, execution status unknown
	-1021: "INVALID_TIMESTAMP",                  // Timestamp outside recvWindow
	-1022: "INVALID_SIGNATURE",                  // Signature not valid
	-1102: "MANDATORY_PARAM_EMPTY_OR_MALFORMED", // Missing or malformed parameter
	-1111: "BAD_PRECISION",                      // Precision over the maximum for this asset
	-1121: "BAD_SYMBOL",                         // Invalid symbol
	-2010: "NEW_ORDER_REJECTED",                 // Order rejected
	-2011: "CANCEL_REJECTED",                    // Cancel rejected
	-2013: "NO_SUCH_ORDER",                      // Order does not exist
	-2014: "BAD_API_KEY_FMT",                    // API key format invalid
	-2015: "REJECTED_MBX_KEY",                   // Invalid API key, IP, or permissions
	-2019: "MARGIN_NOT_SUFFICIEN",               // Margin is insufficient
	-2022: "REDUCE_ONLY_REJECT",                 // ReduceOnly order rejected
	-4003: "QTY_LESS_THAN_ZERO",                 // Quantity less than zero
	-4014: "PRICE_NOT_INCREASED_BY_TICK_SIZE",   // Price not a multiple of tick size
	-4023: "QTY_NOT_INCREASED_BY_STEP_SIZE",     // Quantity not a multiple of step size
	-4028: "INVALID_LEVERAGE",                   // Leverage not valid
	-4046: "NO_NEED_TO_CHANGE_MARGIN_TYPE",      // Margin type already set
	-4047: "THERE_EXISTS_OPEN_ORDERS",           // Margin type cannot change with open orders
	-4048: "THERE_EXISTS_QUANTITY",              // Margin type cannot change with open position
	-4164: "MIN_NOTIONAL",                       // Order notional below minimum
}

// GetErrorMsg returns a human-readable message for a given Binance error code.
// If the code is unknown, returns a generic message including the code.
func GetErrorMsg(code int) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BINANCE_ERROR_%d", code)
}
