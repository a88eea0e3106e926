// Package irptest provides an in-process Registry for tests.
package irptest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alapierre/go-irp-client/irp/irn"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Endpoint names used by FailNext, Delay and Calls.
const (
	EndpointAuth       = "auth"
	EndpointGenerate   = "generate"
	EndpointCancel     = "cancel"
	EndpointByIRN      = "irn"
	EndpointByDocument = "document"
)

// Registry error codes returned by the fake.
const (
	CodeAuthFailed     = "AUTH_FAILED"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeDuplicateIRN   = "2150"
	CodeNotFound       = "2283"
	CodeAlreadyCancel  = "9999"
	CodeWindowExpired  = "2270"
	CodeScripted       = "SCRIPTED"
	CodeMalformedInput = "2172"
)

const firstAckNo = 112410000000001

// Credentials accepted by the fake auth endpoint.
var Credentials = model.AuthRequest{
	Username:     "irp-user",
	Password:     "irp-password",
	TaxID:        SellerGstin,
	ClientID:     "client-id-0001",
	ClientSecret: "client-secret-0001",
}

type failure struct {
	status int
	body   string
	header http.Header
}

type stored struct {
	res model.RegistrationResponse
	doc model.Document
}

// Server emulates the Registry endpoints. It is safe for concurrent use.
type Server struct {
	*httptest.Server

	// TokenTTL is the expires_in reported for new tokens.
	TokenTTL     time.Duration
	CancelWindow time.Duration

	mu       sync.Mutex
	clock    clockwork.Clock
	tokens   map[string]struct{}
	records  map[string]*stored
	byDoc    map[string]string
	ackNo    int64
	calls    map[string]int
	failures map[string][]failure
	delays   map[string]time.Duration
	headers  map[string]http.Header
}

// NewServer starts a fake Registry and stops it when tb finishes.
func NewServer(tb testing.TB) *Server {
	s := &Server{
		TokenTTL:     time.Hour,
		CancelWindow: 24 * time.Hour,
		clock:        clockwork.NewRealClock(),
		tokens:       make(map[string]struct{}),
		records:      make(map[string]*stored),
		byDoc:        make(map[string]string),
		ackNo:        firstAckNo,
		calls:        make(map[string]int),
		failures:     make(map[string][]failure),
		delays:       make(map[string]time.Duration),
		headers:      make(map[string]http.Header),
	}

	r := chi.NewRouter()
	r.Post(model.PathAuth, s.handle(EndpointAuth, s.auth))
	r.Post(model.PathGenerate, s.handle(EndpointGenerate, s.authorized(s.generate)))
	r.Post(model.PathCancel, s.handle(EndpointCancel, s.authorized(s.cancel)))
	r.Get(model.PathByIRN+"{irn}", s.handle(EndpointByIRN, s.authorized(s.byIRN)))
	r.Get(model.PathByDocument, s.handle(EndpointByDocument, s.authorized(s.byDocument)))

	s.Server = httptest.NewServer(r)
	tb.Cleanup(s.Close)
	return s
}

// SetClock replaces the clock used for acknowledgement dates and the cancel window.
func (s *Server) SetClock(c clockwork.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
}

// FailNext makes the next len(statuses) calls of endpoint fail with those statuses.
func (s *Server) FailNext(endpoint string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range statuses {
		body := `{"errorCode":"` + CodeScripted + `","errorMessage":"scripted failure"}`
		s.failures[endpoint] = append(s.failures[endpoint], failure{status: st, body: body})
	}
}

// FailNextWithBody makes the next call of endpoint answer status with a raw body and extra headers.
func (s *Server) FailNextWithBody(endpoint string, status int, body string, header http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], failure{status: status, body: body, header: header})
}

// Delay makes every call of endpoint wait d before answering, or until the client gives up.
func (s *Server) Delay(endpoint string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[endpoint] = d
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]struct{})
}

// Calls returns how many requests reached endpoint.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// LastHeader returns the request headers of the latest call of endpoint.
func (s *Server) LastHeader(endpoint string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[endpoint]
}

// Record returns the stored registration for irn.
func (s *Server) Record(irnValue string) (model.RegistrationResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.records[irnValue]
	if !ok {
		return model.RegistrationResponse{}, false
	}
	return st.res, true
}

// SetAckDate rewrites the acknowledgement date of irn.
func (s *Server) SetAckDate(irnValue string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.records[irnValue]; ok {
		st.res.AckDt = model.FormatAckTime(t)
	}
}

// SetPending turns irn back into a registration the Registry has not acknowledged yet.
func (s *Server) SetPending(irnValue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.records[irnValue]; ok {
		st.res.Status = string(model.StatusPending)
		st.res.AckNo = 0
		st.res.AckDt = ""
	}
}

func (s *Server) handle(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[endpoint]++
		s.headers[endpoint] = r.Header.Clone()
		delay := s.delays[endpoint]
		var f *failure
		if q := s.failures[endpoint]; len(q) > 0 {
			f = &q[0]
			s.failures[endpoint] = q[1:]
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if f != nil {
			for k, vs := range f.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		h(w, r)
	}
}

func (s *Server) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, known := s.tokens[token]
		s.mu.Unlock()
		if !ok || !known {
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token", nil)
			return
		}
		h(w, r)
	}
}

func (s *Server) auth(w http.ResponseWriter, r *http.Request) {
	var req model.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedInput, err.Error(), nil)
		return
	}
	if req != Credentials {
		writeError(w, http.StatusUnauthorized, CodeAuthFailed, "invalid credentials", nil)
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	ttl := s.TokenTTL
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, model.AuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
	})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var doc model.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedInput, err.Error(), nil)
		return
	}
	id := irn.ForDocument(&doc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.records[id]; dup {
		writeError(w, http.StatusBadRequest, CodeDuplicateIRN, "Duplicate IRN", []model.ErrorDetail{
			{ErrorCode: CodeDuplicateIRN, ErrorMessage: "document already registered", ErrorField: "DocDtls.No"},
		})
		return
	}

	now := s.clock.Now()
	res := model.RegistrationResponse{
		Irn:           id,
		AckNo:         s.ackNo,
		AckDt:         model.FormatAckTime(now),
		SignedInvoice: signedToken(doc),
		SignedQrCode:  signedToken(qrClaims(&doc, id, s.ackNo, now)),
		Status:        "ACT",
	}
	s.ackNo++
	s.records[id] = &stored{res: res, doc: doc}
	s.byDoc[docKey(doc.Doc.Type, doc.Doc.Number, doc.Doc.Date)] = id

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedInput, err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.records[req.Irn]
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "IRN not found", nil)
		return
	}
	if st.res.Status == "CNL" {
		writeError(w, http.StatusBadRequest, CodeAlreadyCancel, "IRN is already cancelled", nil)
		return
	}
	ack, _ := model.ParseAckTime(st.res.AckDt)
	now := s.clock.Now()
	if now.Sub(ack) >= s.CancelWindow {
		writeError(w, http.StatusBadRequest, CodeWindowExpired, "cancellation window has expired", nil)
		return
	}

	st.res.Status = "CNL"
	writeJSON(w, http.StatusOK, model.CancelResponse{
		Irn:        req.Irn,
		CancelDate: model.FormatAckTime(now),
		Status:     "CNL",
	})
}

func (s *Server) byIRN(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "irn")
	s.mu.Lock()
	st, ok := s.records[id]
	var res model.RegistrationResponse
	if ok {
		res = st.res
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "IRN not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) byDocument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := docKey(q.Get("doctype"), q.Get("docnum"), q.Get("docdate"))

	s.mu.Lock()
	var (
		res model.RegistrationResponse
		ok  bool
	)
	if id, found := s.byDoc[key]; found {
		res, ok = s.records[id].res, true
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "no registration for document", nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func docKey(typ, number, date string) string {
	return typ + "|" + number + "|" + date
}

// qrClaims mirrors the payload the Registry embeds in signedQrCode.
func qrClaims(doc *model.Document, id string, ackNo int64, ackDt time.Time) map[string]any {
	hsn := ""
	if len(doc.Items) > 0 {
		hsn = doc.Items[0].HsnCode
	}
	data, _ := json.Marshal(map[string]any{
		"SellerGstin": doc.Seller.Gstin,
		"BuyerGstin":  doc.Buyer.Gstin,
		"DocNo":       doc.Doc.Number,
		"DocTyp":      doc.Doc.Type,
		"DocDt":       doc.Doc.Date,
		"TotInvVal":   doc.Values.TotalValue,
		"ItemCnt":     len(doc.Items),
		"MainHsnCode": hsn,
		"Irn":         id,
		"AckNo":       ackNo,
		"IrnDt":       model.FormatAckTime(ackDt),
	})
	return map[string]any{"data": string(data), "iss": "NIC"}
}

// signedToken builds a JWT shaped string with a dummy signature.
func signedToken(claims any) string {
	enc := base64.RawURLEncoding
	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("signature"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details []model.ErrorDetail) {
	writeJSON(w, status, model.ErrorEnvelope{ErrorCode: code, ErrorMessage: message, ErrorDetails: details})
}
