package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"agegate/internal/monitoring"
)

// SNSAPI is the subset of *sns.Client used by SNSSink.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

const defaultPublishTimeout = 5 * time.Second

// SNSSink publishes alerts to an SNS topic from a background goroutine.
// Notify never blocks; when the queue is full the oldest alert is dropped.
type SNSSink struct {
	client   SNSAPI
	topicARN string
	buffer   *RingBuffer
	logger   *slog.Logger
	minLevel monitoring.Severity
	timeout  time.Duration

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type SNSOption func(*SNSSink)

func WithSNSLogger(logger *slog.Logger) SNSOption {
	return func(s *SNSSink) {
		s.logger = logger
	}
}

// WithBufferSize sets how many alerts may wait for delivery.
func WithBufferSize(n int) SNSOption {
	return func(s *SNSSink) {
		s.buffer = NewRingBuffer(n)
	}
}

// WithWarnings forwards warning alerts as well as critical ones.
func WithWarnings() SNSOption {
	return func(s *SNSSink) {
		s.minLevel = monitoring.SeverityWarning
	}
}

func NewSNSSink(client SNSAPI, topicARN string, opts ...SNSOption) (*SNSSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if topicARN == "" {
		return nil, errors.New("sns topic ARN is required")
	}
	s := &SNSSink{
		client:   client,
		topicARN: topicARN,
		buffer:   NewRingBuffer(64),
		logger:   slog.Default(),
		minLevel: monitoring.SeverityCritical,
		timeout:  defaultPublishTimeout,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *SNSSink) Notify(_ context.Context, a monitoring.Alert) {
	if s.minLevel == monitoring.SeverityCritical && a.Severity != monitoring.SeverityCritical {
		return
	}
	s.buffer.Enqueue(a)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Dropped reports alerts discarded because the queue was full.
func (s *SNSSink) Dropped() int64 {
	return s.buffer.Dropped()
}

// Close stops the sender after delivering what is queued.
func (s *SNSSink) Close() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *SNSSink) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *SNSSink) drain() {
	for {
		batch := s.buffer.DequeueBatch(16)
		if len(batch) == 0 {
			return
		}
		for _, a := range batch {
			if err := s.publish(a); err != nil {
				s.logger.Error("failed to publish alert to SNS",
					"alert_kind", string(a.Kind),
					"error", err,
				)
			}
		}
	}
}

type snsMessage struct {
	Kind     monitoring.AlertKind `json:"kind"`
	Severity monitoring.Severity  `json:"severity"`
	Message  string               `json:"message"`
	At       time.Time            `json:"at"`
	Snapshot monitoring.Snapshot  `json:"snapshot"`
}

func (s *SNSSink) publish(a monitoring.Alert) error {
	body, err := json.Marshal(snsMessage{
		Kind:     a.Kind,
		Severity: a.Severity,
		Message:  a.Message,
		At:       a.At,
		Snapshot: a.Snapshot,
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(fmt.Sprintf("[agegate] %s", a.Kind)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(a.Severity)),
			},
		},
	})
	return err
}
