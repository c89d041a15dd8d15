package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "guestgate/pkg/domain-errors"
	"guestgate/pkg/platform/circuit"
	"guestgate/pkg/platform/sentinel"
)

// HTTPConfig configures one outbound provider adapter.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// While a breaker is open most calls fail fast; every probeInterval-th
// attempt still goes out so the breaker can observe recovery.
const probeInterval = 4

const defaultTimeout = 10 * time.Second

// caller is the shared outbound HTTP plumbing for all provider adapters:
// one circuit breaker and one span per call, coded errors out.
//
// Error classification:
//   - unreachable, timeout, 5xx, malformed body: CodeChannelUnavailable or
//     CodeChannelFailed wrapping sentinel.ErrUnavailable; counts against
//     the breaker.
//   - 4xx: CodeChannelFailed with the provider's reason; the dependency is
//     alive, so the breaker records a success.
type caller struct {
	name     string
	baseURL  string
	apiKey   string
	client   *http.Client
	breaker  *circuit.Breaker
	tracer   trace.Tracer
	logger   *slog.Logger
	attempts atomic.Uint64
}

func newCaller(name string, cfg HTTPConfig, logger *slog.Logger) *caller {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &caller{
		name:    name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: circuit.New(name),
		tracer:  otel.Tracer("guestgate/providers"),
		logger:  logger,
	}
}

// do sends one request and decodes the response into out. A nil in skips the
// request body; a nil out discards the response body.
func (c *caller) do(ctx context.Context, spanName, method, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("provider", c.name)))
	defer span.End()

	if c.breaker.IsOpen() && c.attempts.Add(1)%probeInterval != 0 {
		span.SetStatus(otelcodes.Error, "circuit open")
		return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeChannelUnavailable, c.name+" circuit open")
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode "+c.name+" request")
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build "+c.name+" request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(ctx, span, err)
		return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeChannelUnavailable, c.name+" unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		err := fmt.Errorf("%s returned %s", c.name, resp.Status)
		c.recordFailure(ctx, span, err)
		return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeChannelUnavailable, err.Error())
	case resp.StatusCode >= http.StatusBadRequest:
		c.recordSuccess(ctx)
		span.SetStatus(otelcodes.Error, resp.Status)
		return dErrors.New(dErrors.CodeChannelFailed, rejectionMessage(c.name, resp))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.recordFailure(ctx, span, err)
			return dErrors.Wrap(err, dErrors.CodeChannelFailed, "decode "+c.name+" response")
		}
	}
	c.recordSuccess(ctx)
	return nil
}

func (c *caller) recordFailure(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "provider circuit opened", "provider", c.name, "error", err)
	}
}

func (c *caller) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "provider circuit closed", "provider", c.name)
	}
}

// rejectionMessage extracts the provider's error body, falling back to the
// HTTP status when the body is not the expected shape.
func rejectionMessage(name string, resp *http.Response) string {
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		if body.Description != "" {
			return fmt.Sprintf("%s rejected request: %s (%s)", name, body.Error, body.Description)
		}
		return fmt.Sprintf("%s rejected request: %s", name, body.Error)
	}
	return fmt.Sprintf("%s rejected request with %s", name, resp.Status)
}

// HTTPIdentityVerifier calls a remote document verification API.
type HTTPIdentityVerifier struct {
	call *caller
}

func NewHTTPIdentityVerifier(cfg HTTPConfig, logger *slog.Logger) *HTTPIdentityVerifier {
	return &HTTPIdentityVerifier{call: newCaller("identity", cfg, logger)}
}

type verifyDocumentRequest struct {
	GuestID      string `json:"guest_id"`
	FullName     string `json:"full_name"`
	Document     []byte `json:"document"`
	DocumentType string `json:"document_type"`
	Selfie       []byte `json:"selfie"`
	SelfieType   string `json:"selfie_type"`
}

type verifyDocumentResponse struct {
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
}

func (v *HTTPIdentityVerifier) VerifyDocument(ctx context.Context, subject Subject, document, selfie Image) (DocumentVerdict, error) {
	req := verifyDocumentRequest{
		GuestID:      subject.GuestID.String(),
		FullName:     subject.FullName,
		Document:     document.Content,
		DocumentType: document.ContentType,
		Selfie:       selfie.Content,
		SelfieType:   selfie.ContentType,
	}
	var resp verifyDocumentResponse
	if err := v.call.do(ctx, "identity.verify_document", http.MethodPost, "/v1/documents/verify", req, &resp); err != nil {
		return DocumentVerdict{}, err
	}
	return DocumentVerdict{Verified: resp.Verified, Reason: resp.Reason, Reference: resp.Reference}, nil
}

// HTTPPhoneVerifier calls a remote one-time-code delivery API.
type HTTPPhoneVerifier struct {
	call *caller
}

func NewHTTPPhoneVerifier(cfg HTTPConfig, logger *slog.Logger) *HTTPPhoneVerifier {
	return &HTTPPhoneVerifier{call: newCaller("phone", cfg, logger)}
}

type requestCodeRequest struct {
	Phone string `json:"phone"`
}

type requestCodeResponse struct {
	Reference        string `json:"reference"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

func (v *HTTPPhoneVerifier) RequestCode(ctx context.Context, phone string) (PhoneChallenge, error) {
	var resp requestCodeResponse
	err := v.call.do(ctx, "phone.request_code", http.MethodPost, "/v1/codes", requestCodeRequest{Phone: phone}, &resp)
	if err != nil {
		return PhoneChallenge{}, err
	}
	return PhoneChallenge{
		Reference: resp.Reference,
		TTL:       time.Duration(resp.ExpiresInSeconds) * time.Second,
	}, nil
}

type verifyCodeRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

type verifyCodeResponse struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

func (v *HTTPPhoneVerifier) VerifyCode(ctx context.Context, reference, code string) (CodeCheck, error) {
	var resp verifyCodeResponse
	err := v.call.do(ctx, "phone.verify_code", http.MethodPost, "/v1/codes/verify", verifyCodeRequest{Reference: reference, Code: code}, &resp)
	if err != nil {
		return CodeCheck{}, err
	}
	return CodeCheck{Verified: resp.Verified, Reason: resp.Reason}, nil
}

// HTTPBackgroundChecker calls a remote screening API.
type HTTPBackgroundChecker struct {
	call *caller
}

func NewHTTPBackgroundChecker(cfg HTTPConfig, logger *slog.Logger) *HTTPBackgroundChecker {
	return &HTTPBackgroundChecker{call: newCaller("background", cfg, logger)}
}

type initiateCheckRequest struct {
	GuestID   string    `json:"guest_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	HomeZIP   string    `json:"home_zip,omitempty"`
	ConsentAt time.Time `json:"consent_at"`
}

type backgroundReportResponse struct {
	Reference string `json:"reference"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

func (b *HTTPBackgroundChecker) InitiateCheck(ctx context.Context, subject Subject) (BackgroundReport, error) {
	req := initiateCheckRequest{
		GuestID:   subject.GuestID.String(),
		FullName:  subject.FullName,
		Email:     subject.Email,
		HomeZIP:   subject.HomeZIP,
		ConsentAt: subject.ConsentAt,
	}
	var resp backgroundReportResponse
	if err := b.call.do(ctx, "background.initiate_check", http.MethodPost, "/v1/checks", req, &resp); err != nil {
		return BackgroundReport{}, err
	}
	return reportFromResponse(resp)
}

func (b *HTTPBackgroundChecker) CheckStatus(ctx context.Context, reference string) (BackgroundReport, error) {
	var resp backgroundReportResponse
	if err := b.call.do(ctx, "background.check_status", http.MethodGet, "/v1/checks/"+reference, nil, &resp); err != nil {
		return BackgroundReport{}, err
	}
	return reportFromResponse(resp)
}

func reportFromResponse(resp backgroundReportResponse) (BackgroundReport, error) {
	state := BackgroundState(resp.State)
	switch state {
	case BackgroundRunning, BackgroundClear, BackgroundFlagged:
	default:
		return BackgroundReport{}, dErrors.Newf(dErrors.CodeChannelFailed, "background provider reported unknown state %q", resp.State)
	}
	return BackgroundReport{Reference: resp.Reference, State: state, Reason: resp.Reason}, nil
}
