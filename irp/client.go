package irp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alapierre/go-irp-client/irp/metrics"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/alapierre/go-irp-client/irp/quota"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/alapierre/go-irp-client/irp"

// Client sends requests to the Registry. Every attempt authenticates,
// acquires quota and then sends; transient failures are retried.
type Client struct {
	cfg     Config
	tr      *transport
	tokens  *TokenProvider
	quota   *quota.Governor
	signer  Signer
	retry   RetryPolicy
	clock   clockwork.Clock
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type clientOptions struct {
	httpClient    *http.Client
	clock         clockwork.Clock
	quota         *quota.Governor
	metrics       *metrics.Metrics
	signer        Signer
	signerSet     bool
	retry         *RetryPolicy
	authenticator Authenticator
	tracer        trace.TracerProvider
}

type ClientOption func(*clientOptions)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = hc }
}

func WithClock(c clockwork.Clock) ClientOption {
	return func(o *clientOptions) { o.clock = c }
}

// WithQuota shares a governor between clients using the same Registry account.
func WithQuota(g *quota.Governor) ClientOption {
	return func(o *clientOptions) { o.quota = g }
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithSigner overrides the signer derived from configuration; nil disables signing.
func WithSigner(s Signer) ClientOption {
	return func(o *clientOptions) {
		o.signer = s
		o.signerSet = true
	}
}

// WithRetryPolicy replaces the default policy; MaxAttempts from the policy wins over Config.MaxAttempts.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(o *clientOptions) { o.retry = &p }
}

// WithAuthenticator replaces the credential exchange against the auth endpoint.
func WithAuthenticator(a Authenticator) ClientOption {
	return func(o *clientOptions) { o.authenticator = a }
}

func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) { o.tracer = tp }
}

// NewClient validates cfg and fails fast on missing or malformed fields.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = NewHTTPClient()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}

	retry := DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxAttempts
	if o.retry != nil {
		retry = *o.retry
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	signer := o.signer
	if !o.signerSet {
		var err error
		if signer, err = NewSignerFromConfig(cfg); err != nil {
			return nil, err
		}
	}

	gov := o.quota
	if gov == nil {
		gov = quota.New(cfg.Quota, quota.WithClock(o.clock), quota.WithObserver(o.metrics))
	}

	auth := o.authenticator
	if auth == nil {
		facade := NewAuthFacade(cfg, o.httpClient)
		facade.clock = o.clock
		auth = facade
	}

	baseURL := cfg.ResolvedBaseURL()
	if strings.HasPrefix(baseURL, "http://") {
		logger.Warnf("base url %s is not using TLS", baseURL)
	}

	return &Client{
		cfg:     cfg,
		tr:      &transport{http: o.httpClient, baseURL: baseURL},
		tokens:  NewTokenProvider(auth, WithTokenClock(o.clock), WithTokenMetrics(o.metrics)),
		quota:   gov,
		signer:  signer,
		retry:   retry,
		clock:   o.clock,
		metrics: o.metrics,
		tracer:  o.tracer.Tracer(tracerName),
	}, nil
}

// Generate submits doc and returns the Registry's record.
func (c *Client) Generate(ctx context.Context, doc *model.Document) (*model.RegistrationRecord, error) {
	if doc.Version == "" {
		cp := *doc
		cp.Version = model.SchemaVersion
		doc = &cp
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, &ApiError{Kind: KindInternal, Op: OpGenerate, Message: "marshal document", Err: err}
	}
	data, err := c.do(ctx, OpGenerate, http.MethodPost, model.PathGenerate, nil, body)
	if err != nil {
		return nil, err
	}
	return decodeRecord(OpGenerate, data)
}

func (c *Client) Cancel(ctx context.Context, req model.CancelRequest) (*model.CancelResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ApiError{Kind: KindInternal, Op: OpCancel, Message: "marshal cancel request", Err: err}
	}
	data, err := c.do(ctx, OpCancel, http.MethodPost, model.PathCancel, nil, body)
	if err != nil {
		return nil, err
	}
	var out model.CancelResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ApiError{Kind: KindInternal, Op: OpCancel, Message: "decode cancel response", Err: err}
	}
	return &out, nil
}

func (c *Client) GetByIRN(ctx context.Context, irn string) (*model.RegistrationRecord, error) {
	data, err := c.do(ctx, OpFetch, http.MethodGet, model.PathByIRN+url.PathEscape(irn), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(OpFetch, data)
}

// GetByDocument looks a registration up by document type, number and date (dd/mm/yyyy).
func (c *Client) GetByDocument(ctx context.Context, docType, docNumber, docDate string) (*model.RegistrationRecord, error) {
	q := url.Values{}
	q.Set("doctype", docType)
	q.Set("docnum", docNumber)
	q.Set("docdate", docDate)
	data, err := c.do(ctx, OpFetch, http.MethodGet, model.PathByDocument, q, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(OpFetch, data)
}

func decodeRecord(op Operation, data []byte) (*model.RegistrationRecord, error) {
	var res model.RegistrationResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &ApiError{Kind: KindInternal, Op: op, Message: "decode registration response", Err: err}
	}
	rec, err := model.RecordFromResponse(&res)
	if err != nil {
		return nil, &ApiError{Kind: KindInternal, Op: op, Message: err.Error(), Err: err}
	}
	return rec, nil
}

// ClearAuth drops the cached token.
func (c *Client) ClearAuth() {
	c.tokens.ClearAuth()
}

// Tokens exposes the token manager for introspection.
func (c *Client) Tokens() *TokenProvider {
	return c.tokens
}

func (c *Client) Quota() *quota.Governor {
	return c.quota
}

// WorstCaseDuration bounds the wall clock time of one logical call of op,
// excluding quota waits: timeout*attempts plus every backoff at maximum jitter.
func (c *Client) WorstCaseDuration(op Operation) time.Duration {
	return c.cfg.TimeoutFor(op)*time.Duration(c.retry.MaxAttempts) + c.retry.totalBackoff()
}

// do runs the retry loop around attempt. The same request id and signature are used for every attempt.
func (c *Client) do(ctx context.Context, op Operation, method, path string, query url.Values, body []byte) ([]byte, error) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}

	ctx, span := c.tracer.Start(ctx, "irp."+string(op), trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("irp.operation", string(op)),
			attribute.String("irp.request_id", requestID),
			attribute.String("http.request.method", method),
		))
	defer span.End()

	header := http.Header{}
	header.Set(model.HeaderRequestID, requestID)
	if c.signer != nil && body != nil {
		sig, err := c.signer.Sign(body)
		if err != nil {
			var apiErr *ApiError
			if !errors.As(err, &apiErr) {
				apiErr = &ApiError{Kind: KindSignature, Message: "sign request body", Err: err}
			}
			apiErr.Op = op
			span.RecordError(apiErr)
			span.SetStatus(codes.Error, "signature")
			return nil, apiErr
		}
		header.Set(model.HeaderSignature, sig)
	}

	log := logger.WithField("op", op).WithField("request_id", requestID)

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.Delay(attempt-1, lastErr)
			c.metrics.IncrementRetry(string(op))
			log.Warnf("attempt %d failed: %v; retrying in %s", attempt, lastErr, delay)
			if err := sleep(ctx, c.clock, delay); err != nil {
				lastErr = canceledError(op, err)
				break
			}
		}

		data, err := c.attempt(ctx, exchange{op: op, method: method, path: path, query: query, body: body, header: header})
		if err == nil {
			span.SetAttributes(attribute.Int("irp.attempts", attempt+1))
			return data, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, string(KindOf(lastErr)))
	return nil, lastErr
}

// attempt performs authenticate, quota check and send, in that order.
// The quota slot is kept unless the request failed before it was dispatched.
func (c *Client) attempt(ctx context.Context, ex exchange) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.metrics.ObserveRequest(string(ex.op), "auth", 0)
		return nil, err
	}

	slot, err := c.quota.Reserve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceledError(ex.op, ctx.Err())
		}
		return nil, &ApiError{Kind: KindQuota, Op: ex.op, Message: err.Error(), Err: err}
	}

	header := ex.header.Clone()
	header.Set("Authorization", "Bearer "+token)
	ex.header = header

	start := time.Now()
	res, err := c.tr.roundTrip(ctx, c.cfg.TimeoutFor(ex.op), ex)
	if err != nil {
		if notDispatched(err) {
			// the Registry never saw this attempt
			slot.Release()
		}
		c.metrics.ObserveRequest(string(ex.op), string(KindOf(err)), time.Since(start))
		return nil, err
	}

	if success(res.status) {
		c.metrics.ObserveRequest(string(ex.op), "ok", time.Since(start))
		return res.body, nil
	}

	apiErr := statusError(ex.op, res, c.clock.Now())
	if apiErr.Kind == KindAuthentication {
		// the Registry rejected our token; authenticate again next time
		c.tokens.ClearAuth()
	}
	c.metrics.ObserveRequest(string(ex.op), string(apiErr.Kind), time.Since(start))
	return nil, apiErr
}
