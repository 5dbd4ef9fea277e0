package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// runSink persists companies for one job, dropping names already stored
// during the same run.
type runSink struct {
	store crawler.JobStore
	ids   crawler.IDGenerator
	clock crawler.Clock
	jobID string

	mu   sync.Mutex
	seen map[string]struct{}
}

func newRunSink(store crawler.JobStore, ids crawler.IDGenerator, clock crawler.Clock, jobID string) *runSink {
	return &runSink{
		store: store,
		ids:   ids,
		clock: clock,
		jobID: jobID,
		seen:  make(map[string]struct{}),
	}
}

func (s *runSink) add(ctx context.Context, company crawler.Company) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := company.NameKey()
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate company id: %w", err)
	}
	company.ID = id
	company.JobID = s.jobID
	company.CreatedAt = s.clock.Now()
	if company.Status == "" {
		company.Status = crawler.CompanyStatusComplete
	}
	if err := s.store.AddCompany(ctx, company); err != nil {
		return false, fmt.Errorf("add company: %w", err)
	}
	s.seen[key] = struct{}{}
	metrics.ObserveCompany()
	return true, nil
}
