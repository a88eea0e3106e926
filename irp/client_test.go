package irp

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alapierre/go-irp-client/irp/irn"
	"github.com/alapierre/go-irp-client/irp/irptest"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/alapierre/go-irp-client/irp/quota"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.TaxID = irptest.Credentials.TaxID
	cfg.Username = irptest.Credentials.Username
	cfg.Password = irptest.Credentials.Password
	cfg.ClientID = irptest.Credentials.ClientID
	cfg.ClientSecret = irptest.Credentials.ClientSecret
	cfg.BaseURL = baseURL
	cfg.Quota = quota.Limits{}
	return cfg
}

var fastRetry = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	Multiplier:   2,
	MaxDelay:     5 * time.Millisecond,
}

func newTestClient(t *testing.T, srv *irptest.Server, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry)}
	c, err := NewClient(testConfig(srv.URL), append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClient_FailsFastOnMissingConfig(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNewHTTPClient_RequiresTLS13(t *testing.T) {
	tr, ok := NewHTTPClient().Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, uint16(tls.VersionTLS13), tr.TLSClientConfig.MinVersion)
}

func TestClient_Generate(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	doc := irptest.SampleDocument()

	rec, err := c.Generate(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, irn.ForDocument(doc), rec.IRN)
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.NotZero(t, rec.AckNo)
	assert.NotEmpty(t, rec.SignedQRCode)
	assert.Equal(t, 1, srv.Calls(irptest.EndpointAuth))

	h := srv.LastHeader(irptest.EndpointGenerate)
	assert.Regexp(t, `^Bearer .+`, h.Get("Authorization"))
	assert.NotEmpty(t, h.Get(model.HeaderRequestID))
	assert.Empty(t, h.Get(model.HeaderSignature))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, Authenticated, c.Tokens().State())
}

func TestClient_ReusesTokenAcrossCalls(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)

	rec, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.NoError(t, err)
	_, err = c.GetByIRN(context.Background(), rec.IRN)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Calls(irptest.EndpointAuth))
}

func TestClient_SignatureHeader(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv, WithSigner(PlaceholderSigner{}))

	_, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.NoError(t, err)
	assert.NotEmpty(t, srv.LastHeader(irptest.EndpointGenerate).Get(model.HeaderSignature))
}

func TestClient_RetriesTransientWithSameRequestID(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	srv.FailNext(irptest.EndpointGenerate, http.StatusServiceUnavailable, http.StatusTooManyRequests)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	rec, err := c.Generate(ctx, irptest.SampleDocument())
	require.NoError(t, err)
	assert.True(t, irn.Valid(rec.IRN))

	assert.Equal(t, 3, srv.Calls(irptest.EndpointGenerate))
	assert.Equal(t, "req-42", srv.LastHeader(irptest.EndpointGenerate).Get(model.HeaderRequestID))
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	srv.FailNext(irptest.EndpointGenerate, 500, 502, 504, 500)

	_, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.Error(t, err)

	var apiErr *ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransient, apiErr.Kind)
	assert.Equal(t, 504, apiErr.Status, "last error is surfaced")
	assert.Equal(t, irptest.CodeScripted, apiErr.Code)
	assert.Equal(t, 3, srv.Calls(irptest.EndpointGenerate))
}

func TestClient_BusinessErrorNotRetried(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	doc := irptest.SampleDocument()

	_, err := c.Generate(context.Background(), doc)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), doc)
	require.Error(t, err)

	var apiErr *ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindBusiness, apiErr.Kind)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, irptest.CodeDuplicateIRN, apiErr.Code)
	require.Len(t, apiErr.Details, 1)
	assert.Equal(t, "DocDtls.No", apiErr.Details[0].Field)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, 2, srv.Calls(irptest.EndpointGenerate))
}

func TestClient_UnauthorizedClearsToken(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)

	rec, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.NoError(t, err)

	srv.RevokeTokens()
	_, err = c.GetByIRN(context.Background(), rec.IRN)
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, 1, srv.Calls(irptest.EndpointByIRN), "authentication failures are not retried")
	assert.Equal(t, Unauthenticated, c.Tokens().State())

	_, err = c.GetByIRN(context.Background(), rec.IRN)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Calls(irptest.EndpointAuth))
}

func TestClient_BadCredentials(t *testing.T) {
	srv := irptest.NewServer(t)
	cfg := testConfig(srv.URL)
	cfg.Password = "wrong"
	c, err := NewClient(cfg, WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), irptest.SampleDocument())
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.Equal(t, 1, srv.Calls(irptest.EndpointAuth))
	assert.Equal(t, 0, srv.Calls(irptest.EndpointGenerate))
}

func TestClient_Forbidden(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	srv.FailNext(irptest.EndpointCancel, http.StatusForbidden)

	_, err := c.Cancel(context.Background(), model.CancelRequest{Irn: "x", CancelReasonCode: "1", Remarks: "dup"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindBusiness, KindOf(err))
}

func TestClient_NotFound(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)

	_, err := c.GetByDocument(context.Background(), "INV", "NOPE/1", "05/03/2024")
	require.Error(t, err)

	var apiErr *ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, irptest.CodeNotFound, apiErr.Code)
	assert.Equal(t, 1, srv.Calls(irptest.EndpointByDocument))
}

func TestClient_GetByDocument(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	doc := irptest.SampleDocument()

	created, err := c.Generate(context.Background(), doc)
	require.NoError(t, err)

	rec, err := c.GetByDocument(context.Background(), doc.Doc.Type, doc.Doc.Number, doc.Doc.Date)
	require.NoError(t, err)
	assert.Equal(t, created.IRN, rec.IRN)
	assert.Equal(t, created.AckNo, rec.AckNo)
}

func TestClient_Cancel(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)

	rec, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.NoError(t, err)

	res, err := c.Cancel(context.Background(), model.CancelRequest{Irn: rec.IRN, CancelReasonCode: "1", Remarks: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, rec.IRN, res.Irn)
	assert.Equal(t, "CNL", res.Status)

	after, err := c.GetByIRN(context.Background(), rec.IRN)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, after.Status)
}

func TestClient_AttemptTimeoutIsTransient(t *testing.T) {
	srv := irptest.NewServer(t)
	cfg := testConfig(srv.URL)
	cfg.Timeouts.Fetch = 50 * time.Millisecond
	c, err := NewClient(cfg, WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	srv.Delay(irptest.EndpointByIRN, time.Second)
	_, err = c.GetByIRN(context.Background(), "abc")
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Equal(t, 3, srv.Calls(irptest.EndpointByIRN))
}

func TestClient_CancelDuringBackoff(t *testing.T) {
	srv := irptest.NewServer(t)
	slow := fastRetry
	slow.InitialDelay = time.Hour
	slow.MaxDelay = time.Hour
	c := newTestClient(t, srv, WithRetryPolicy(slow))
	srv.FailNext(irptest.EndpointGenerate, http.StatusServiceUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Generate(ctx, irptest.SampleDocument())
	require.Error(t, err)
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, srv.Calls(irptest.EndpointGenerate))
}

func TestClient_LongQuotaWindowIsFatal(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv, WithQuota(quota.New(quota.Limits{PerHour: 1})))

	rec, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.NoError(t, err, "auth must not consume quota")

	_, err = c.GetByIRN(context.Background(), rec.IRN)
	require.Error(t, err)
	assert.Equal(t, KindQuota, KindOf(err))
	assert.True(t, errors.Is(err, quota.ErrExceeded))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 0, srv.Calls(irptest.EndpointByIRN))
}

func TestClient_UndispatchedAttemptReturnsQuota(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	baseURL := down.URL
	down.Close()

	auth := &authMock{}
	auth.On("Authenticate", mock.Anything).
		Return(&model.AuthResponse{AccessToken: "token", ExpiresIn: 3600}, nil)

	gov := quota.New(quota.Limits{PerSecond: 10, PerDay: 100})
	c, err := NewClient(testConfig(baseURL),
		WithAuthenticator(auth), WithRetryPolicy(fastRetry), WithQuota(gov), WithHTTPClient(&http.Client{}))
	require.NoError(t, err)

	_, err = c.GetByIRN(context.Background(), strings.Repeat("a", 64))
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))

	for _, w := range gov.Snapshot() {
		assert.Zero(t, w.Count, w.Window)
	}
}

func TestClient_MalformedErrorBody(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv)
	srv.FailNextWithBody(irptest.EndpointByIRN, http.StatusBadRequest, "<html>bad gateway</html>", nil)

	_, err := c.GetByIRN(context.Background(), "abc")
	var apiErr *ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindBusiness, apiErr.Kind)
	assert.Equal(t, "Bad Request", apiErr.Message)
	assert.Equal(t, "<html>bad gateway</html>", string(apiErr.Body))
}

func TestClient_WorstCaseDuration(t *testing.T) {
	srv := irptest.NewServer(t)
	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 10 * time.Second
	cfg.Timeouts.Generate = 20 * time.Second
	c, err := NewClient(cfg, WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		MaxJitter:    time.Second,
	}))
	require.NoError(t, err)

	// 3 attempts of 20s plus backoffs of (1s+1s) and (2s+1s)
	assert.Equal(t, 65*time.Second, c.WorstCaseDuration(OpGenerate))
	assert.Equal(t, 35*time.Second, c.WorstCaseDuration(OpFetch))
}

func TestClient_Health(t *testing.T) {
	srv := irptest.NewServer(t)
	c := newTestClient(t, srv, WithQuota(quota.New(quota.Limits{PerSecond: 10})))

	h := c.Health()
	assert.False(t, h.Authenticated)
	assert.Equal(t, "UNAUTHENTICATED", h.TokenState)
	assert.Equal(t, "none", h.Signature)

	_, err := c.Generate(context.Background(), irptest.SampleDocument())
	require.NoError(t, err)

	h = c.Health()
	assert.True(t, h.Authenticated)
	assert.NotNil(t, h.TokenExpiresAt)
	assert.Equal(t, 1, h.Quota[0].Count)
	assert.Equal(t, 10, h.Quota[0].Limit)
	assert.NotEqual(t, irptest.Credentials.Password, h.Config.Password)
	assert.Contains(t, h.WorstCase, OpGenerate)
	assert.Equal(t, srv.URL, h.BaseURL)
}
