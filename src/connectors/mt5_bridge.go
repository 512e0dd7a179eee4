package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"signalbridge/src/model"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 5 * time.Second
)

// MT5BridgeClient talks to an HTTP bridge running next to a MetaTrader 5 terminal.
// Order placement is never retried; only health reads are.
type MT5BridgeClient struct {
	baseURL string
	token   string
	trade   *resty.Client
	read    *resty.Client
}

type bridgeErrorBody struct {
	Retcode int    `json:"retcode"`
	Comment string `json:"comment"`
	Error   string `json:"error"`
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

func NewMT5BridgeClient(baseURL, token string, timeout time.Duration, readRetries int) *MT5BridgeClient {
	if baseURL == "" {
		baseURL = "http://localhost:5005"
		logger.Warnf("No bridge base URL provided, using default: %s", baseURL)
	}

	trade := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)

	read := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(readRetries).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &MT5BridgeClient{
		baseURL: baseURL,
		token:   token,
		trade:   trade,
		read:    read,
	}
}

func (c *MT5BridgeClient) request(ctx context.Context, client *resty.Client) *resty.Request {
	req := client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if c.token != "" {
		req = req.SetAuthToken(c.token)
	}
	return req
}

// Ping checks that the bridge is reachable.
func (c *MT5BridgeClient) Ping(ctx context.Context) error {
	resp, err := c.request(ctx, c.read).Get("/health")
	if err != nil {
		return fmt.Errorf("bridge health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("bridge health: HTTP %d", resp.StatusCode())
	}
	return nil
}

// Execute sends an order (buy/sell) or a close instruction (close_*) to the bridge.
func (c *MT5BridgeClient) Execute(ctx context.Context, order BridgeRequest) (*BridgeResult, error) {
	path := "/orders"
	if model.IsCloseAction(order.Action) {
		path = "/positions/close"
	}

	fields := order.LogFields()
	fields["connector"] = "MT5BridgeClient"
	fields["path"] = path

	var result BridgeResult
	resp, err := c.request(ctx, c.trade).
		SetHeader("Content-Type", "application/json").
		SetBody(order).
		SetResult(&result).
		Post(path)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.WithFields(fields).WithError(err).Warn("Bridge call interrupted")
			return nil, fmt.Errorf("bridge %s: %w", path, ctxErr)
		}
		logger.WithFields(fields).WithError(err).Error("Bridge call failed")
		return nil, fmt.Errorf("bridge %s: %w", path, err)
	}

	if resp.IsError() {
		return nil, c.errorFromResponse(resp, fields)
	}

	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now().UTC()
	}

	fields["ticket"] = result.Ticket
	fields["price"] = result.Price.String()
	logger.WithFields(fields).Info("Bridge executed order")

	return &result, nil
}

func (c *MT5BridgeClient) errorFromResponse(resp *resty.Response, fields map[string]interface{}) error {
	fields["status"] = resp.StatusCode()

	var body bridgeErrorBody
	raw := resp.Body()
	_ = json.Unmarshal(raw, &body)

	reason := strings.TrimSpace(body.Comment)
	if reason == "" {
		reason = strings.TrimSpace(body.Error)
	}

	switch {
	case body.Retcode != 0 && body.Retcode != RetcodeDone:
		logger.WithFields(fields).WithField("retcode", body.Retcode).Warn("Bridge rejected order")
		return &RejectionError{Code: body.Retcode, Reason: reason}
	case resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError &&
		resp.StatusCode() != http.StatusTooManyRequests && resp.StatusCode() != http.StatusRequestTimeout:
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		logger.WithFields(fields).Warn("Bridge rejected order")
		return &RejectionError{Reason: reason}
	default:
		logger.WithFields(fields).Error("Bridge returned an error status")
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(raw)))
	}
}
