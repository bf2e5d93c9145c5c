package finik

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/studkg/cashier/pkg/metrics"
)

const (
	EnvBeta = "beta"
	EnvProd = "prod"

	BetaBaseURL = "https://beta.api.acquiring.averspay.kg"
	ProdBaseURL = "https://api.acquiring.averspay.kg"

	PaymentPath = "/v1/payment"

	HeaderAPIKey    = "x-api-key"
	HeaderTimestamp = "x-api-timestamp"
	HeaderSignature = "signature"

	DefaultTimeout = 10 * time.Second
)

// Options is the merchant configuration the gateway integration runs with.
type Options struct {
	Env                  string
	APIKey               string
	AccountID            string
	PrivateKeyPEM        string
	PublicKeyProd        string
	PublicKeyBeta        string
	RedirectURL          string
	WebhookURL           string
	MerchantCategoryCode string
	CardType             string
	// BaseURL overrides the environment host. Used against test servers.
	BaseURL string
	Timeout time.Duration
}

// IsBeta follows the gateway's convention: anything but "beta" is production.
func (o Options) IsBeta() bool { return strings.EqualFold(strings.TrimSpace(o.Env), EnvBeta) }

func (o Options) ResolvedBaseURL() string {
	if o.BaseURL != "" {
		return strings.TrimRight(o.BaseURL, "/")
	}
	if o.IsBeta() {
		return BetaBaseURL
	}
	return ProdBaseURL
}

// PublicKeyPEM is the gateway key matching the configured environment.
func (o Options) PublicKeyPEM() string {
	if o.IsBeta() {
		return o.PublicKeyBeta
	}
	return o.PublicKeyProd
}

// PaymentRequest is the create-payment payload. Field names are the
// gateway's own and must not be renamed.
type PaymentRequest struct {
	Amount      int         `json:"Amount"`
	CardType    string      `json:"CardType"`
	PaymentId   string      `json:"PaymentId"`
	RedirectUrl string      `json:"RedirectUrl"`
	Data        PaymentData `json:"Data"`
}

type PaymentData struct {
	AccountID            string            `json:"accountId"`
	MerchantCategoryCode string            `json:"merchantCategoryCode"`
	NameEn               string            `json:"name_en"`
	WebhookURL           string            `json:"webhookUrl"`
	Description          string            `json:"description"`
	SubscriptionID       string            `json:"subscriptionId"`
	UserID               string            `json:"userId,omitempty"`
	RegistrationData     *RegistrationData `json:"registrationData,omitempty"`
}

// RegistrationData travels with payments made before an account exists.
// The password is never included.
type RegistrationData struct {
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// GatewayError is a create-payment call the gateway did not accept.
// Status is 0 when no response was received.
type GatewayError struct {
	Status  int
	Message string
	Body    string
	Err     error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("finik gateway: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("finik gateway: status %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("finik gateway: status %d", e.Status)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Err converts a Failed result into the error surfaced to callers.
func (f Failed) Err() error {
	return &GatewayError{Status: f.Status, Message: f.Message, Body: string(f.Body)}
}

// Client creates payments on the Finik acquiring API.
type Client struct {
	http    *resty.Client
	opts    Options
	baseURL string
	host    string
	signer  *Signer
	log     *zap.SugaredLogger
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewClient(opts Options, signer *Signer, log *zap.SugaredLogger, rec *metrics.Recorder) (*Client, error) {
	if signer == nil {
		return nil, errors.New("finik client: signer is nil")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	baseURL := opts.ResolvedBaseURL()
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("finik client: invalid base url %q", baseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := resty.New().
		SetTimeout(timeout).
		// the redirect target is the payment page, it must not be followed
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	return &Client{
		http:    hc,
		opts:    opts,
		baseURL: baseURL,
		host:    u.Host,
		signer:  signer,
		log:     log,
		metrics: rec,
		now:     time.Now,
	}, nil
}

// Host is the value signed as the host header.
func (c *Client) Host() string { return c.host }

// SignedRequest is a fully prepared create-payment call.
type SignedRequest struct {
	Canonical string
	Signature string
	Timestamp string
	Body      string
}

// Prepare builds and signs the request without sending it. The body that is
// sent is the canonical body, so the bytes on the wire are the bytes signed.
func (c *Client) Prepare(req *PaymentRequest) (*SignedRequest, error) {
	if c.opts.APIKey == "" {
		return nil, &KeyFormatError{Reason: "FINIK_API_KEY is not configured"}
	}
	generic, err := ToGeneric(req)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	cr := &CanonicalRequest{
		Method: http.MethodPost,
		Path:   PaymentPath,
		Headers: map[string]string{
			"Host":          c.host,
			HeaderAPIKey:    c.opts.APIKey,
			HeaderTimestamp: ts,
		},
		Body: generic,
	}
	canonical, err := cr.String()
	if err != nil {
		return nil, err
	}
	sig, err := c.signer.Sign(canonical)
	if err != nil {
		return nil, err
	}
	body, err := CanonicalBody(generic)
	if err != nil {
		return nil, err
	}
	return &SignedRequest{Canonical: canonical, Signature: sig, Timestamp: ts, Body: body}, nil
}

// CreatePayment signs and sends req. A returned error means the call could
// not be made or answered; a gateway refusal is a Failed result.
func (c *Client) CreatePayment(ctx context.Context, req *PaymentRequest) (PaymentResult, error) {
	signed, err := c.Prepare(req)
	if err != nil {
		return nil, err
	}

	log := c.log.With(
		"payment_id", req.PaymentId,
		"host", c.host,
		"api_key", Redact(c.opts.APIKey, 6),
		"timestamp", signed.Timestamp,
	)
	log.Debugw("finik_create_payment_request",
		"canonical", signed.Canonical,
		"signature", Redact(signed.Signature, 16),
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetHeader(HeaderAPIKey, c.opts.APIKey).
		SetHeader(HeaderTimestamp, signed.Timestamp).
		SetHeader(HeaderSignature, signed.Signature).
		SetBody([]byte(signed.Body)).
		Post(c.baseURL + PaymentPath)
	if err != nil {
		c.metrics.GatewayRequest("error")
		log.Errorw("finik_create_payment_transport_error", "error", err.Error())
		return nil, &GatewayError{Err: err}
	}

	status := resp.StatusCode()
	c.metrics.GatewayRequest(strconv.Itoa(status))
	result := decodeCreateResponse(status, resp.Header(), resp.Body())

	if f, ok := result.(Failed); ok {
		fields := []any{"status", status, "message", f.Message}
		if status == http.StatusForbidden {
			fields = append(fields,
				"hint", "signature or credential mismatch: check private key, api key, host and canonical string",
				"canonical", signed.Canonical,
			)
		}
		log.Errorw("finik_create_payment_failed", fields...)
		return result, nil
	}
	log.Infow("finik_create_payment_ok", "status", status)
	return result, nil
}

// Redact keeps the first n characters of a secret.
func Redact(s string, n int) string {
	if s == "" {
		return ""
	}
	if len(s) <= n {
		return strings.Repeat("*", len(s))
	}
	return s[:n] + "..."
}
