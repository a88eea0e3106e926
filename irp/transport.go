package irp

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/alapierre/go-irp-client/irp/util"
	"github.com/go-faster/errors"
)

// maxBodySize limits how much of a response is read.
const maxBodySize = 8 << 20

// diagnosticBodySize is the fragment of an error body kept on ApiError.
const diagnosticBodySize = 2 << 10

// NewHTTPClient returns a client whose transport refuses anything below TLS 1.3.
func NewHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	return &http.Client{Transport: tr}
}

// exchange is one HTTP request to the Registry.
type exchange struct {
	op     Operation
	method string
	path   string
	query  url.Values
	body   []byte
	header http.Header
}

type response struct {
	status int
	header http.Header
	body   []byte
}

type transport struct {
	http    *http.Client
	baseURL string
}

// roundTrip sends ex once, bounded by timeout. Errors are *ApiError of kind
// transient, canceled (ctx itself is done) or internal.
func (t *transport) roundTrip(ctx context.Context, timeout time.Duration, ex exchange) (*response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := t.baseURL + ex.path
	if len(ex.query) > 0 {
		u += "?" + ex.query.Encode()
	}

	var body io.Reader
	if ex.body != nil {
		body = bytes.NewReader(ex.body)
	}
	req, err := http.NewRequestWithContext(actx, ex.method, u, body)
	if err != nil {
		return nil, &ApiError{Kind: KindInternal, Op: ex.op, Message: "build request", Err: err}
	}
	for k, vs := range ex.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if ex.body != nil {
		req.Header.Set(model.HeaderContentType, "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if util.HttpTraceEnabled() {
		logger.Debugf("--> %s %s %s", ex.method, ex.path, traceBody(ex.op, ex.body))
	}

	res, err := t.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, ex.op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, transportError(ctx, ex.op, err)
	}

	if util.HttpTraceEnabled() {
		logger.Debugf("<-- %d %s %s", res.StatusCode, ex.path, traceBody(ex.op, data))
	}
	return &response{status: res.StatusCode, header: res.Header, body: data}, nil
}

// traceBody keeps credentials out of the trace log.
func traceBody(op Operation, body []byte) string {
	if op == OpAuth {
		return "<redacted>"
	}
	if len(body) > diagnosticBodySize {
		return string(body[:diagnosticBodySize]) + "..."
	}
	return string(body)
}

// transportError classifies a failure that produced no HTTP response.
// parent is the caller's context: its cancellation is never retried.
func transportError(parent context.Context, op Operation, err error) error {
	if parent.Err() != nil {
		return canceledError(op, parent.Err())
	}
	if isTransientNetError(err) {
		return &ApiError{Kind: KindTransient, Op: op, Message: err.Error(), Err: err}
	}
	return &ApiError{Kind: KindInternal, Op: op, Message: err.Error(), Err: err}
}

// notDispatched reports whether err happened before the request left the process.
func notDispatched(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTransientNetError(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	}
	return false
}

// statusError turns a non-2xx response into an *ApiError.
func statusError(op Operation, res *response, now time.Time) *ApiError {
	e := &ApiError{Op: op, Status: res.status}
	if env, ok := decodeEnvelope(res.body); ok {
		e.Code = env.ErrorCode
		e.Message = env.ErrorMessage
		e.Details = detailsFromEnvelope(env)
	}
	if e.Message == "" {
		e.Message = http.StatusText(res.status)
	}
	if len(res.body) > diagnosticBodySize {
		e.Body = res.body[:diagnosticBodySize]
	} else {
		e.Body = res.body
	}

	switch {
	case res.status == http.StatusUnauthorized:
		e.Kind = KindAuthentication
	case res.status == http.StatusForbidden:
		e.Kind = KindBusiness
	case res.status == http.StatusTooManyRequests,
		res.status == http.StatusRequestTimeout,
		res.status >= 500:
		e.Kind = KindTransient
		e.RetryAfter = parseRetryAfter(res.header, now)
	default:
		e.Kind = KindBusiness
	}
	return e
}

func success(status int) bool {
	return status >= 200 && status < 300
}
