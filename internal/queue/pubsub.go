package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/swatch"
)

// publishWait bounds how long the background result collection waits
// for server acknowledgement before giving up.
const publishWait = 30 * time.Second

// PubSubPublisher sends run summaries to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  string
	logger *zap.Logger
}

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// NewPubSubPublisher creates a Pub/Sub client and verifies the topic
// exists and is active. It authenticates using Application Default
// Credentials.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	name := fullTopicName(projectID, topicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing pubsub client after topic lookup failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get pubsub topic %q: %w", topicID, err)
	}
	if topic.State != pubsubpb.Topic_ACTIVE {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing pubsub client after topic state check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q in project %q is not active", topicID, projectID)
	}

	return &PubSubPublisher{
		client: client,
		topic:  topic.Name,
		logger: logger.Named("publisher"),
	}, nil
}

// Publish marshals the summary to JSON and publishes it. The send is
// asynchronous; the client batches and retries in the background.
func (p *PubSubPublisher) Publish(ctx context.Context, summary swatch.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	publisher := p.client.Publisher(p.topic)
	result := publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"runId": summary.RunID,
			"kind":  string(summary.Kind),
		},
	})
	go p.collectResult(result, summary.RunID)

	p.logger.Debug("run summary queued for publish",
		zap.String("run_id", summary.RunID), zap.String("topic", p.topic))
	return nil
}

// publishResult is the slice of *pubsub.PublishResult that collection
// needs. Tests substitute it to drive the failure path.
type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// collectResult waits for server acknowledgement. The caller tears its
// context down right after the run finishes, so the wait runs on a
// detached deadline; failures surface as warnings.
func (p *PubSubPublisher) collectResult(result publishResult, runID string) {
	waitCtx, cancel := context.WithTimeout(context.Background(), publishWait)
	defer cancel()
	if _, err := result.Get(waitCtx); err != nil {
		p.logger.Warn("run summary publish failed",
			zap.String("run_id", runID),
			zap.String("topic", p.topic),
			zap.Error(err))
	}
}

// Close stops background publishing and closes the client connection.
func (p *PubSubPublisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
