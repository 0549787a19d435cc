package store

import (
	"context"
	"sync"

	"webkart/internal/report/models"
	id "webkart/pkg/domain"
	"webkart/pkg/platform/outbox"
	"webkart/pkg/platform/sentinel"
)

// OutboxAppender receives the moderation hand-off entry.
type OutboxAppender interface {
	Append(ctx context.Context, entry outbox.Entry) error
}

// InMemoryStore keeps reports in process. The report and its outbox entry are
// written under one lock, which is as close to atomic as memory allows.
type InMemoryStore struct {
	mu      sync.Mutex
	reports []*models.Report
	index   map[id.ReportID]int
	outbox  OutboxAppender
}

func NewInMemoryStore(appender OutboxAppender) *InMemoryStore {
	return &InMemoryStore{index: make(map[id.ReportID]int), outbox: appender}
}

func (s *InMemoryStore) Save(ctx context.Context, report *models.Report, entry outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[report.ID]; exists {
		return sentinel.ErrConflict
	}
	if s.outbox != nil {
		if err := s.outbox.Append(ctx, entry); err != nil {
			return err
		}
	}
	copied := *report
	s.index[report.ID] = len(s.reports)
	s.reports = append(s.reports, &copied)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, reportID id.ReportID) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.reports[i]
	return &copied, nil
}

// Len reports the number of stored reports.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
