//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"agegate/pkg/domain"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/publishers/kafka"
	"agegate/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	broker string
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.broker = containers.NewRedpandaContainer(s.T()).Broker
}

func (s *KafkaPublisherSuite) TestAppendDeliversKeyedEvent() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "agegate.audit.test"
	pub, err := kafka.New([]string{s.broker}, topic)
	s.Require().NoError(err)
	s.Require().NoError(pub.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(pub.EnsureTopic(ctx, 1, 1), "second create must tolerate an existing topic")

	subjectID := domain.NewSubjectID()
	s.Require().NoError(pub.Append(ctx, audit.Event{
		SubjectID: subjectID,
		Action:    string(audit.EventVerificationApproved),
		Category:  audit.CategoryCompliance,
		Decision:  "APPROVED",
	}))
	s.Require().NoError(pub.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().NotEmpty(records)

	s.Equal(subjectID.String(), string(records[0].Key))
	var got audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(string(audit.EventVerificationApproved), got.Action)
	s.Equal("APPROVED", got.Decision)
}
