package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	"agegate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) TestFindUnknown() {
	_, err := s.store.FindByID(s.ctx, domain.NewSubjectID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestSaveAndFind() {
	subject := models.NewSubject(domain.NewSubjectID(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, subject))
	s.Equal(int64(1), subject.Version)

	found, err := s.store.FindByID(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, found.Status)
	s.Equal(int64(1), found.Version)
}

func (s *InMemoryStoreSuite) TestReturnedSubjectsAreCopies() {
	subject := models.NewSubject(domain.NewSubjectID(), s.now)
	subject.Approve(time.Date(1960, 1, 15, 0, 0, 0, 0, time.UTC), 64, s.now)
	s.Require().NoError(s.store.Save(s.ctx, subject))

	*subject.Age = 1
	found, err := s.store.FindByID(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(64, *found.Age)

	*found.Age = 2
	again, err := s.store.FindByID(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(64, *again.Age)
}

func (s *InMemoryStoreSuite) TestStaleVersionConflicts() {
	subject := models.NewSubject(domain.NewSubjectID(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, subject))

	first, err := s.store.FindByID(s.ctx, subject.ID)
	s.Require().NoError(err)
	second, err := s.store.FindByID(s.ctx, subject.ID)
	s.Require().NoError(err)

	first.StartProcessing(s.now)
	s.Require().NoError(s.store.Save(s.ctx, first))

	second.Fail("disk full", s.now)
	s.Require().ErrorIs(s.store.Save(s.ctx, second), sentinel.ErrConflict)

	s.Run("new subject with non-zero version conflicts", func() {
		orphan := models.NewSubject(domain.NewSubjectID(), s.now)
		orphan.Version = 3
		s.Require().ErrorIs(s.store.Save(s.ctx, orphan), sentinel.ErrConflict)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentWritersOneWins() {
	subject := models.NewSubject(domain.NewSubjectID(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, subject))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loaded, err := s.store.FindByID(s.ctx, subject.ID)
			if err != nil {
				return
			}
			loaded.Version = 1
			loaded.StartProcessing(s.now)
			if s.store.Save(s.ctx, loaded) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
