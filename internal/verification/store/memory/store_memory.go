package memory

import (
	"context"
	"sync"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	"agegate/pkg/platform/sentinel"
)

// InMemoryStore keeps subjects in a map. Saved and returned subjects are
// copies so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	subjects map[domain.SubjectID]*models.Subject
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{subjects: make(map[domain.SubjectID]*models.Subject)}
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.SubjectID) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(subject), nil
}

// Save writes the subject if its version matches the stored one. A subject
// that was never stored must have version 0.
func (s *InMemoryStore) Save(_ context.Context, subject *models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.subjects[subject.ID]; ok {
		current = existing.Version
	}
	if subject.Version != current {
		return sentinel.ErrConflict
	}
	subject.Version++
	s.subjects[subject.ID] = clone(subject)
	return nil
}

func clone(in *models.Subject) *models.Subject {
	out := *in
	if in.Birthdate != nil {
		b := *in.Birthdate
		out.Birthdate = &b
	}
	if in.Age != nil {
		a := *in.Age
		out.Age = &a
	}
	if in.VerifiedAt != nil {
		v := *in.VerifiedAt
		out.VerifiedAt = &v
	}
	return &out
}
