// Package dynamo persists verification subjects in a DynamoDB table keyed
// by subject_id. Writes are conditional on the stored version.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	"agegate/pkg/platform/sentinel"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type Store struct {
	client API
	table  string
}

func New(client API, table string) (*Store, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("dynamodb table is required")
	}
	return &Store{client: client, table: table}, nil
}

type subjectItem struct {
	SubjectID     string     `dynamodbav:"subject_id"`
	Status        string     `dynamodbav:"status"`
	TokenHash     string     `dynamodbav:"token_hash,omitempty"`
	Birthdate     *time.Time `dynamodbav:"birthdate,omitempty"`
	Age           *int       `dynamodbav:"age,omitempty"`
	FailureReason string     `dynamodbav:"failure_reason,omitempty"`
	VerifiedAt    *time.Time `dynamodbav:"verified_at,omitempty"`
	FrontPhotoKey string     `dynamodbav:"front_photo_key,omitempty"`
	BackPhotoKey  string     `dynamodbav:"back_photo_key,omitempty"`
	CreatedAt     time.Time  `dynamodbav:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at"`
	Version       int64      `dynamodbav:"version"`
}

func keyOf(id domain.SubjectID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"subject_id": &types.AttributeValueMemberS{Value: id.String()},
	}
}

func (s *Store) FindByID(ctx context.Context, id domain.SubjectID) (*models.Subject, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	if out.Item == nil {
		return nil, sentinel.ErrNotFound
	}
	var item subjectItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal subject: %w", err)
	}
	return toSubject(item)
}

// Save writes the subject with version+1. The write only succeeds when the
// stored version equals subject.Version, or no item exists and
// subject.Version is 0.
func (s *Store) Save(ctx context.Context, subject *models.Subject) error {
	item := fromSubject(subject)
	item.Version = subject.Version + 1
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal subject: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if subject.Version == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(subject_id)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(subject.Version, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("put subject: %w", err)
	}
	subject.Version = item.Version
	return nil
}

func fromSubject(s *models.Subject) subjectItem {
	return subjectItem{
		SubjectID:     s.ID.String(),
		Status:        string(s.Status),
		TokenHash:     s.TokenHash,
		Birthdate:     s.Birthdate,
		Age:           s.Age,
		FailureReason: s.FailureReason,
		VerifiedAt:    s.VerifiedAt,
		FrontPhotoKey: s.FrontPhotoKey,
		BackPhotoKey:  s.BackPhotoKey,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Version:       s.Version,
	}
}

func toSubject(item subjectItem) (*models.Subject, error) {
	id, err := domain.ParseSubjectID(item.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("stored subject id: %w", err)
	}
	status := models.Status(item.Status)
	if !status.IsValid() {
		return nil, fmt.Errorf("stored subject %s has unknown status %q", item.SubjectID, item.Status)
	}
	return &models.Subject{
		ID:            id,
		Status:        status,
		TokenHash:     item.TokenHash,
		Birthdate:     item.Birthdate,
		Age:           item.Age,
		FailureReason: item.FailureReason,
		VerifiedAt:    item.VerifiedAt,
		FrontPhotoKey: item.FrontPhotoKey,
		BackPhotoKey:  item.BackPhotoKey,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
		Version:       item.Version,
	}, nil
}
