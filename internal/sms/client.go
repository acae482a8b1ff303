// Package sms delivers outbound messages through the Twilio Messages API.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"
	"leadlock_backend/platform/config"
	"leadlock_backend/platform/logger"

	"golang.org/x/time/rate"
)

// DefaultSegmentCostMicros is charged per segment when the provider does not
// report a price at send time.
const DefaultSegmentCostMicros int64 = 7900

// Twilio error codes with a meaning beyond "bad request".
const (
	codeUnsubscribed  = 21610
	codeInvalidNumber = 21211
)

type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	http       *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

var _ ports.Transport = (*Client)(nil)

type sendResponse struct {
	SID         string  `json:"sid"`
	Status      string  `json:"status"`
	NumSegments string  `json:"num_segments"`
	Price       *string `json:"price"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewClient returns nil when SMS credentials are not configured.
func NewClient(cfg config.SMSConfig, log *logger.Logger) *Client {
	if !cfg.IsSMSEnabled() {
		return nil
	}

	perSecond := cfg.GetSMSRatePerSecond()
	if perSecond <= 0 {
		perSecond = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.GetTwilioBaseURL(), "/"),
		accountSID: cfg.GetTwilioAccountSID(),
		authToken:  cfg.GetTwilioAuthToken(),
		http:       &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), int(math.Max(1, perSecond))),
		log:        log,
	}
}

// Send posts one message. Throttling, network errors, 429 and 5xx responses
// are returned as Unavailable so the caller may retry.
func (c *Client) Send(ctx context.Context, msg ports.OutboundMessage) (ports.ProviderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ports.ProviderResult{}, apperr.Unavailable("sms rate limit wait aborted", err)
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", msg.From)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.ProviderResult{}, apperr.Unavailable("sms request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ports.ProviderResult{}, apperr.Unavailable("read sms response", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return ports.ProviderResult{}, classify(resp.StatusCode, data)
	}

	var out sendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return ports.ProviderResult{}, fmt.Errorf("decode sms response: %w", err)
	}

	segments, err := strconv.Atoi(out.NumSegments)
	if err != nil || segments <= 0 {
		segments = Segments(msg.Body)
	}
	cost := int64(segments) * DefaultSegmentCostMicros
	if out.Price != nil {
		if micros, ok := priceMicros(*out.Price); ok {
			cost = micros
		}
	}

	c.log.Info("sms: message accepted", "providerMessageId", out.SID, "status", out.Status, "segments", segments)
	return ports.ProviderResult{MessageID: out.SID, Segments: segments, CostMicros: cost}, nil
}

func classify(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	detail := fmt.Errorf("twilio returned %d (code %d): %s", status, e.Code, msg)

	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return apperr.Unavailable("sms provider unavailable", detail)
	case e.Code == codeUnsubscribed:
		return apperr.Wrap(apperr.KindForbidden, "recipient has unsubscribed at the carrier",
			fmt.Errorf("%w: %v", ports.ErrRecipientOptedOut, detail))
	case e.Code == codeInvalidNumber:
		return apperr.Wrap(apperr.KindValidation, "recipient number is invalid", detail)
	default:
		return apperr.Wrap(apperr.KindValidation, "sms rejected", detail)
	}
}

// priceMicros converts Twilio's signed decimal price to positive micro-dollars.
func priceMicros(price string) (int64, bool) {
	if price == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(math.Abs(v) * 1e6)), true
}
