// Package storage provides alert persistence implementations.
package storage

import (
	"context"
	"sync"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// Compile-time interface check.
var _ domain.AlertStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory alert store. Safe for concurrent access.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []domain.Alert
	saves  int
	log    *logger.Logger
}

// NewMemoryStore creates a store seeded with the given alerts.
func NewMemoryStore(log *logger.Logger, seed ...domain.Alert) *MemoryStore {
	return &MemoryStore{
		alerts: append([]domain.Alert(nil), seed...),
		log:    log,
	}
}

// Load returns a copy of the stored alerts.
func (s *MemoryStore) Load(ctx context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.log.Debug("loading alerts, count=%d", len(s.alerts))
	return append([]domain.Alert(nil), s.alerts...), nil
}

// Save replaces the stored alert set.
func (s *MemoryStore) Save(ctx context.Context, alerts []domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("saving alerts, count=%d", len(alerts))
	s.alerts = append([]domain.Alert(nil), alerts...)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
