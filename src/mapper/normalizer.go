package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"signalbridge/src/model"

	"github.com/shopspring/decimal"
)

// Validation error codes returned to webhook callers.
const (
	CodeMalformedJSON     = "malformed_json"
	CodeMalformedText     = "malformed_text"
	CodeUnknownAction     = "unknown_action"
	CodeMissingSymbol     = "missing_symbol"
	CodeInvalidVolume     = "invalid_volume"
	CodeInvalidPrice      = "invalid_price"
	CodeInvalidAccountRef = "invalid_account_ref"
)

// DefaultVolume is used when a payload carries no usable volume.
var DefaultVolume = decimal.RequireFromString("0.01")

// accountRefFields are checked in order; the first non-empty one wins.
var accountRefFields = []string{"mt5_account_id", "broker_account_id", "account_id"}

// ContentKind tells Normalize how to read the body.
type ContentKind int

const (
	KindFreeform ContentKind = iota
	KindStructured
)

func (k ContentKind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "freeform"
}

// KindFromContentType maps a Content-Type header to a ContentKind.
func KindFromContentType(contentType string) ContentKind {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		return KindStructured
	}
	return KindFreeform
}

// ValidationError rejects a payload before anything is stored.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

func invalid(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// SignalRequest is the canonical form of an inbound alert.
type SignalRequest struct {
	Symbol         string
	Action         string
	Volume         decimal.Decimal
	StopLoss       decimal.NullDecimal
	TakeProfit     decimal.NullDecimal
	AccountRef     *uint
	IdempotencyKey string

	// RawPayload is what the ledger stores verbatim: the JSON body itself, or
	// {"raw_text": ...} for freeform bodies.
	RawPayload string
}

// Normalize parses body into a SignalRequest. It performs no I/O and is deterministic.
func Normalize(body []byte, kind ContentKind) (*SignalRequest, error) {
	if kind == KindStructured {
		return normalizeJSON(body)
	}
	return normalizeText(body)
}

func normalizeJSON(body []byte) (*SignalRequest, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var fields map[string]interface{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, invalid(CodeMalformedJSON, "%v", err)
	}
	if fields == nil {
		return nil, invalid(CodeMalformedJSON, "body is not a JSON object")
	}

	action, err := canonicalAction(stringField(fields["action"]))
	if err != nil {
		return nil, err
	}

	symbol := canonicalSymbol(stringField(fields["symbol"]))
	if symbol == "" {
		return nil, invalid(CodeMissingSymbol, "symbol is required")
	}

	req := &SignalRequest{
		Symbol:         symbol,
		Action:         action,
		Volume:         DefaultVolume,
		IdempotencyKey: strings.TrimSpace(stringField(fields["idempotency_key"])),
		RawPayload:     string(body),
	}

	if volume, ok := numericField(fields["volume"]); ok {
		req.Volume = volume
	}
	if sl, ok := numericField(fields["sl"]); ok {
		req.StopLoss = decimal.NewNullDecimal(sl)
	}
	if tp, ok := numericField(fields["tp"]); ok {
		req.TakeProfit = decimal.NewNullDecimal(tp)
	}

	for _, name := range accountRefFields {
		value := fields[name]
		if isBlank(value) {
			continue
		}
		ref, err := accountRef(value)
		if err != nil {
			return nil, err
		}
		req.AccountRef = &ref
		break
	}

	return req, nil
}

func normalizeText(body []byte) (*SignalRequest, error) {
	text := string(body)
	raw, err := json.Marshal(map[string]string{"raw_text": text})
	if err != nil {
		return nil, invalid(CodeMalformedText, "%v", err)
	}

	tokens := strings.Fields(text)
	if len(tokens) < 2 {
		return nil, invalid(CodeMalformedText, `expected "SYMBOL action [volume] [key=value ...]"`)
	}

	action, verr := canonicalAction(tokens[1])
	if verr != nil {
		return nil, verr
	}

	req := &SignalRequest{
		Symbol:     canonicalSymbol(tokens[0]),
		Action:     action,
		Volume:     DefaultVolume,
		RawPayload: string(raw),
	}

	rest := tokens[2:]
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		volume, err := decimal.NewFromString(rest[0])
		if err != nil {
			return nil, invalid(CodeInvalidVolume, "%q is not a number", rest[0])
		}
		req.Volume = volume
		rest = rest[1:]
	}

	for _, token := range rest {
		key, value, found := strings.Cut(token, "=")
		if !found {
			continue
		}

		switch strings.ToLower(key) {
		case "sl", "tp":
			price, err := decimal.NewFromString(value)
			if err != nil {
				return nil, invalid(CodeInvalidPrice, "%s=%q is not a number", key, value)
			}
			if strings.EqualFold(key, "sl") {
				req.StopLoss = decimal.NewNullDecimal(price)
			} else {
				req.TakeProfit = decimal.NewNullDecimal(price)
			}
		case "account":
			ref, err := accountRef(value)
			if err != nil {
				return nil, err
			}
			req.AccountRef = &ref
		case "idempotency_key":
			req.IdempotencyKey = value
		}
	}

	return req, nil
}

func canonicalAction(raw string) (string, error) {
	action := strings.ToLower(strings.TrimSpace(raw))
	if !model.IsValidAction(action) {
		return "", invalid(CodeUnknownAction, "%q is not one of %s", raw, strings.Join(model.Actions, ", "))
	}
	return action, nil
}

func canonicalSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func isBlank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func stringField(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// numericField accepts JSON numbers and numeric strings.
func numericField(value interface{}) (decimal.Decimal, bool) {
	var raw string
	switch v := value.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return decimal.Decimal{}, false
	}

	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return parsed, true
}

func accountRef(value interface{}) (uint, error) {
	raw := strings.TrimSpace(stringField(value))
	if raw == "" {
		return 0, invalid(CodeInvalidAccountRef, "unsupported account reference %v", value)
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, invalid(CodeInvalidAccountRef, "%q is not an account id", raw)
	}
	return uint(id), nil
}
