// Package registration drives documents through validation, hashing and the
// Registry, and writes one audit entry for every terminal outcome.
package registration

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/alapierre/go-irp-client/irp"
	"github.com/alapierre/go-irp-client/irp/audit"
	"github.com/alapierre/go-irp-client/irp/irn"
	"github.com/alapierre/go-irp-client/irp/metrics"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/alapierre/go-irp-client/irp/mutex"
	"github.com/alapierre/go-irp-client/irp/qr"
	"github.com/alapierre/go-irp-client/irp/validation"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var logger = logrus.WithField("component", "irp.registration")

const tracerName = "github.com/alapierre/go-irp-client/irp/registration"

const (
	DefaultMaxBatchSize   = 100
	DefaultMaxConcurrency = 10

	// CancelWindow is how long after acknowledgement a registration may be cancelled.
	CancelWindow = 24 * time.Hour

	MaxRemarksLength = 100
)

// CancelReason is the Registry's closed set of cancellation reasons.
type CancelReason string

const (
	ReasonDuplicate        CancelReason = "1"
	ReasonDataEntryMistake CancelReason = "2"
	ReasonOrderCancelled   CancelReason = "3"
	ReasonOther            CancelReason = "4"
)

func (r CancelReason) Valid() bool {
	switch r {
	case ReasonDuplicate, ReasonDataEntryMistake, ReasonOrderCancelled, ReasonOther:
		return true
	}
	return false
}

// RegistryClient is the part of *irp.Client the service needs.
type RegistryClient interface {
	Generate(ctx context.Context, doc *model.Document) (*model.RegistrationRecord, error)
	Cancel(ctx context.Context, req model.CancelRequest) (*model.CancelResponse, error)
	GetByIRN(ctx context.Context, irn string) (*model.RegistrationRecord, error)
	GetByDocument(ctx context.Context, docType, docNumber, docDate string) (*model.RegistrationRecord, error)
}

// Registration is the Registry's record plus the locally computed IRN.
type Registration struct {
	model.RegistrationRecord

	// LocalIRN is computed from the document before submission.
	LocalIRN string `json:"localIrn"`
	// IRNMatched is false when the Registry returned a different IRN.
	IRNMatched bool `json:"irnMatched"`
}

type Service struct {
	client         RegistryClient
	validator      *validation.Validator
	sink           audit.Sink
	clock          clockwork.Clock
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	locks          mutex.KeyedRWMutex[string]
	maxBatchSize   int
	maxConcurrency int
	cancelWindow   time.Duration
}

type Option func(*Service)

func WithValidator(v *validation.Validator) Option {
	return func(s *Service) { s.validator = v }
}

func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithMaxBatchSize sets the largest batch GenerateBulk accepts.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithMaxConcurrency sets the chunk size of GenerateBulk.
func WithMaxConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

func WithCancelWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cancelWindow = d
		}
	}
}

// NewService wires client with a default validator and a logrus audit sink.
func NewService(client RegistryClient, opts ...Option) *Service {
	s := &Service{
		client:         client,
		validator:      validation.New(),
		sink:           audit.NewLogSink(nil),
		clock:          clockwork.NewRealClock(),
		tracer:         otel.GetTracerProvider().Tracer(tracerName),
		maxBatchSize:   DefaultMaxBatchSize,
		maxConcurrency: DefaultMaxConcurrency,
		cancelWindow:   CancelWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) MaxBatchSize() int   { return s.maxBatchSize }
func (s *Service) MaxConcurrency() int { return s.maxConcurrency }

// GenerateRegistration validates doc and submits it. Invalid documents never reach the network.
func (s *Service) GenerateRegistration(ctx context.Context, doc *model.Document) (*Registration, error) {
	ctx, span := s.tracer.Start(ctx, "registration.generate")
	defer span.End()

	entry := audit.Entry{Operation: audit.OpGenerate}
	if doc != nil {
		entry.DocumentType = doc.Doc.Type
		entry.DocumentNumber = doc.Doc.Number
		entry.DocumentDate = doc.Doc.Date
		entry.Request = marshal(doc)
		span.SetAttributes(attribute.String("irp.document", doc.Doc.Type+"/"+doc.Doc.Number))
	}

	if res := s.validator.Validate(doc); !res.Valid {
		err := validationError(irp.OpGenerate, "document failed validation", res.Errors)
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}

	local := irn.ForDocument(doc)
	entry.IRN = local
	span.SetAttributes(attribute.String("irp.irn.local", local))

	rec, err := s.client.Generate(ctx, doc)
	if err != nil {
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}

	reg := &Registration{RegistrationRecord: *rec, LocalIRN: local, IRNMatched: rec.IRN == local}
	if !reg.IRNMatched {
		logger.WithField("document", doc.Doc.Number).
			Warnf("registry irn %s differs from locally computed %s", rec.IRN, local)
		entry.IRN = rec.IRN
	}
	s.finish(ctx, span, entry, rec, nil)
	return reg, nil
}

// CancelRegistration cancels an active registration. Concurrent cancels of one IRN are serialised.
func (s *Service) CancelRegistration(ctx context.Context, irnValue string, reason CancelReason, remarks string) (*model.CancelResponse, error) {
	ctx, span := s.tracer.Start(ctx, "registration.cancel", trace.WithAttributes(attribute.String("irp.irn", irnValue)))
	defer span.End()

	req := model.CancelRequest{Irn: irnValue, CancelReasonCode: string(reason), Remarks: remarks}
	entry := audit.Entry{Operation: audit.OpCancel, IRN: irnValue, Request: marshal(req)}

	if err := checkIRN(irp.OpCancel, irnValue); err != nil {
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}
	if !reason.Valid() {
		err := &irp.ApiError{
			Kind:    irp.KindValidation,
			Op:      irp.OpCancel,
			Message: "cancel reason must be one of 1, 2, 3, 4",
			Details: []irp.ErrorDetail{{Code: "INVALID_CANCEL_REASON", Message: "unknown reason " + string(reason), Field: "cancelReasonCode"}},
			Err:     irp.ErrInvalidCancelReason,
		}
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}
	if utf8.RuneCountInString(remarks) > MaxRemarksLength {
		err := validationError(irp.OpCancel, "cancel remarks are too long", validation.Errors{{
			Field:   "remarks",
			Code:    "REMARKS_TOO_LONG",
			Message: "remarks must not exceed 100 characters",
		}})
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}

	s.locks.Lock(irnValue)
	defer s.locks.Unlock(irnValue)

	res, err := s.client.Cancel(ctx, req)
	if err != nil {
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}
	s.finish(ctx, span, entry, res, nil)
	return res, nil
}

// CanCancel reports whether irnValue is still inside the cancel window.
// It only reads; CancelRegistration may still be rejected by the Registry.
// A cancel of the same IRN in flight is waited for, so the answer reflects its outcome.
func (s *Service) CanCancel(ctx context.Context, irnValue string) (bool, error) {
	if err := checkIRN(irp.OpFetch, irnValue); err != nil {
		return false, err
	}
	s.locks.RLock(irnValue)
	rec, err := s.client.GetByIRN(ctx, irnValue)
	s.locks.RUnlock(irnValue)
	if err != nil {
		return false, err
	}
	if rec.Status == model.StatusCancelled {
		return false, nil
	}
	if rec.AckDate.IsZero() {
		return false, nil
	}
	return s.clock.Since(rec.AckDate) < s.cancelWindow, nil
}

func (s *Service) GetRegistrationByIRN(ctx context.Context, irnValue string) (*model.RegistrationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registration.get_by_irn", trace.WithAttributes(attribute.String("irp.irn", irnValue)))
	defer span.End()

	entry := audit.Entry{Operation: audit.OpFetch, IRN: irnValue, Request: marshal(map[string]string{"irn": irnValue})}
	if err := checkIRN(irp.OpFetch, irnValue); err != nil {
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}

	rec, err := s.client.GetByIRN(ctx, irnValue)
	if err != nil {
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}
	s.finish(ctx, span, entry, rec, nil)
	return rec, nil
}

// GetRegistrationByDocument looks a registration up by document type, number and date (dd/mm/yyyy).
func (s *Service) GetRegistrationByDocument(ctx context.Context, docType, docNumber, docDate string) (*model.RegistrationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registration.get_by_document",
		trace.WithAttributes(attribute.String("irp.document", docType+"/"+docNumber)))
	defer span.End()

	entry := audit.Entry{
		Operation:      audit.OpFetch,
		DocumentType:   docType,
		DocumentNumber: docNumber,
		DocumentDate:   docDate,
		Request:        marshal(map[string]string{"doctype": docType, "docnum": docNumber, "docdate": docDate}),
	}
	if errs := s.validator.LookupKey(docType, docNumber, docDate); len(errs) > 0 {
		err := validationError(irp.OpFetch, "invalid document lookup key", errs)
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}

	rec, err := s.client.GetByDocument(ctx, docType, docNumber, docDate)
	if err != nil {
		s.finish(ctx, span, entry, nil, err)
		return nil, err
	}
	entry.IRN = rec.IRN
	s.finish(ctx, span, entry, rec, nil)
	return rec, nil
}

// GenerateQrPayload packages the QR-encodable subset of rec and doc.
func (s *Service) GenerateQrPayload(rec *model.RegistrationRecord, doc *model.Document) (*qr.Payload, error) {
	p, err := qr.NewPayload(rec, doc)
	if err != nil {
		return nil, &irp.ApiError{Kind: irp.KindValidation, Message: err.Error(), Err: err}
	}
	return p, nil
}

// finish records the terminal outcome of one operation: audit entry, metrics and span status.
func (s *Service) finish(ctx context.Context, span trace.Span, e audit.Entry, response any, opErr error) {
	e.ID = uuid.New()
	e.Timestamp = s.clock.Now()
	if opErr != nil {
		e.Outcome = audit.OutcomeError
		e.ErrorKind = string(irp.KindOf(opErr))
		e.ErrorDetail = opErr.Error()
		if apiErr, ok := asAPIError(opErr); ok && json.Valid(apiErr.Body) {
			e.Response = apiErr.Body
		}
		span.RecordError(opErr)
		span.SetStatus(codes.Error, e.ErrorKind)
	} else {
		e.Outcome = audit.OutcomeSuccess
		e.Response = marshal(response)
	}
	s.metrics.IncrementRegistration(string(e.Operation), opErr == nil)

	// the audit write must outlive a cancelled caller
	if err := s.sink.Append(context.WithoutCancel(ctx), e); err != nil {
		s.metrics.IncrementAuditFailure()
		logger.WithField("audit_id", e.ID.String()).
			WithField("operation", e.Operation).
			Errorf("audit write failed: %v", err)
	}
}

func checkIRN(op irp.Operation, value string) error {
	if irn.Valid(value) {
		return nil
	}
	return &irp.ApiError{
		Kind:    irp.KindValidation,
		Op:      op,
		Message: "irn must be 64 lowercase hex characters",
		Details: []irp.ErrorDetail{{Code: "INVALID_IRN", Message: "malformed irn", Field: "irn"}},
		Err:     irp.ErrInvalidIRN,
	}
}

func validationError(op irp.Operation, msg string, errs validation.Errors) *irp.ApiError {
	details := make([]irp.ErrorDetail, len(errs))
	for i, fe := range errs {
		details[i] = irp.ErrorDetail{Code: fe.Code, Message: fe.Message, Field: fe.Field}
	}
	return &irp.ApiError{Kind: irp.KindValidation, Op: op, Message: msg, Details: details, Err: errs}
}

func marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Debugf("audit payload not serialisable: %v", err)
		return nil
	}
	return b
}
