package dynamo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/suite"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	"agegate/pkg/platform/sentinel"
)

// fakeDynamo evaluates the two condition expressions the store issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyValue(m map[string]types.AttributeValue) string {
	return m["subject_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyValue(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := keyValue(in.Item)
	existing, exists := f.items[key]
	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(subject_id)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "version = :expected":
		expected := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		if !exists || existing["version"].(*types.AttributeValueMemberN).Value != expected {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

type DynamoStoreSuite struct {
	suite.Suite
	fake  *fakeDynamo
	store *Store
	ctx   context.Context
	now   time.Time
}

func TestDynamoStoreSuite(t *testing.T) {
	suite.Run(t, new(DynamoStoreSuite))
}

func (s *DynamoStoreSuite) SetupTest() {
	s.fake = newFakeDynamo()
	store, err := New(s.fake, "subjects")
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *DynamoStoreSuite) TestNewValidates() {
	_, err := New(nil, "t")
	s.Error(err)
	_, err = New(s.fake, "")
	s.Error(err)
}

func (s *DynamoStoreSuite) TestRoundTrip() {
	subject := models.NewSubject(domain.NewSubjectID(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, subject))
	s.Equal(int64(1), subject.Version)

	subject.Approve(time.Date(1960, 1, 15, 0, 0, 0, 0, time.UTC), 64, s.now)
	subject.FrontPhotoKey = "front.png"
	s.Require().NoError(s.store.Save(s.ctx, subject))

	stored := s.fake.items[subject.ID.String()]
	s.Equal(strconv.Itoa(2), stored["version"].(*types.AttributeValueMemberN).Value)
	s.NotContains(stored, "failure_reason")

	found, err := s.store.FindByID(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, found.Status)
	s.Require().NotNil(found.Age)
	s.Equal(64, *found.Age)
	s.Require().NotNil(found.Birthdate)
	s.True(found.Birthdate.Equal(time.Date(1960, 1, 15, 0, 0, 0, 0, time.UTC)))
	s.Equal("front.png", found.FrontPhotoKey)
	s.Equal(int64(2), found.Version)
}

func (s *DynamoStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(s.ctx, domain.NewSubjectID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *DynamoStoreSuite) TestConflicts() {
	subject := models.NewSubject(domain.NewSubjectID(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, subject))

	s.Run("creating twice conflicts", func() {
		dup := models.NewSubject(subject.ID, s.now)
		s.ErrorIs(s.store.Save(s.ctx, dup), sentinel.ErrConflict)
	})

	s.Run("stale version conflicts", func() {
		stale, err := s.store.FindByID(s.ctx, subject.ID)
		s.Require().NoError(err)
		subject.StartProcessing(s.now)
		s.Require().NoError(s.store.Save(s.ctx, subject))

		stale.Fail("disk full", s.now)
		s.ErrorIs(s.store.Save(s.ctx, stale), sentinel.ErrConflict)
		s.Equal(int64(1), stale.Version)
	})
}

func (s *DynamoStoreSuite) TestTransportErrors() {
	boom := errors.New("throttled")
	s.fake.err = boom
	_, err := s.store.FindByID(s.ctx, domain.NewSubjectID())
	s.ErrorIs(err, boom)
	s.ErrorIs(s.store.Save(s.ctx, models.NewSubject(domain.NewSubjectID(), s.now)), boom)
}
