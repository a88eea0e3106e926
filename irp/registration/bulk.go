package registration

import (
	"context"
	"fmt"

	"github.com/alapierre/go-irp-client/irp"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

// BulkResult is the outcome for the document at Index of the submitted batch.
// Exactly one of Registration and Err is set.
type BulkResult struct {
	Index          int
	DocumentNumber string
	Registration   *Registration
	Err            error
}

func (r BulkResult) OK() bool { return r.Err == nil }

// GenerateBulk registers docs in chunks of MaxConcurrency. Documents within a chunk run
// concurrently; chunks run one after another. Results follow the input order and a
// failed document never aborts the batch. Batches above MaxBatchSize are rejected
// before anything is sent.
func (s *Service) GenerateBulk(ctx context.Context, docs []*model.Document) ([]BulkResult, error) {
	if len(docs) > s.maxBatchSize {
		return nil, &irp.ApiError{
			Kind:    irp.KindValidation,
			Op:      irp.OpGenerate,
			Message: fmt.Sprintf("batch of %d documents exceeds the limit of %d", len(docs), s.maxBatchSize),
			Err:     irp.ErrBatchTooLarge,
		}
	}
	s.metrics.ObserveBulkSize(len(docs))

	results := make([]BulkResult, len(docs))
	for i, d := range docs {
		results[i].Index = i
		if d != nil {
			results[i].DocumentNumber = d.Doc.Number
		}
	}

	log := logger.WithField("batch_size", len(docs))
	for start := 0; start < len(docs); start += s.maxConcurrency {
		end := min(start+s.maxConcurrency, len(docs))

		if err := ctx.Err(); err != nil {
			log.Warnf("batch interrupted before document %d: %v", start, err)
			for i := start; i < len(docs); i++ {
				results[i].Err = &irp.ApiError{Kind: irp.KindCanceled, Op: irp.OpGenerate, Message: err.Error(), Err: err}
			}
			break
		}

		var g errgroup.Group
		g.SetLimit(s.maxConcurrency)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				reg, err := s.GenerateRegistration(ctx, docs[i])
				results[i].Registration, results[i].Err = reg, err
				return nil
			})
		}
		_ = g.Wait()
		log.Debugf("chunk %d-%d done", start, end-1)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Infof("batch finished: %d registered, %d failed", len(docs)-failed, failed)
	return results, nil
}

func asAPIError(err error) (*irp.ApiError, bool) {
	var apiErr *irp.ApiError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
