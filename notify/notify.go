// Package notify announces publication events on a SNS topic so downstream
// systems can follow what the gateway did.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EventType identifies what happened to a dataset.
type EventType string

const (
	DatasetPublished   EventType = "DatasetPublished"
	DatasetUnpublished EventType = "DatasetUnpublished"
)

// Event is the payload published on the topic.
type Event struct {
	Type            EventType `json:"type"`
	DataResourceUID string    `json:"dataResourceUid"`
	RequestID       string    `json:"requestID"`
	DatasetName     string    `json:"datasetName,omitempty"`
	UserID          string    `json:"userId"`
	Created         bool      `json:"created,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers events. A Notifier without topic logs and drops them.
type Notifier struct {
	client   snsiface.SNSAPI
	topicARN string
	logger   logrus.FieldLogger
}

func New(logger logrus.FieldLogger, client snsiface.SNSAPI, topicARN string) *Notifier {
	return &Notifier{client: client, topicARN: topicARN, logger: logger}
}

// Notify publishes the event.
func (n *Notifier) Notify(ctx context.Context, event *Event) error {
	if n.topicARN == "" || n.client == nil {
		n.logger.WithFields(logrus.Fields{
			"topic": "notifications[disabled]",
			"type":  event.Type,
			"uid":   event.DataResourceUID,
		}).Debug("Event not published")
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "event could not be encoded")
	}

	_, err = n.client.PublishWithContext(ctx, &sns.PublishInput{
		Message:  aws.String(string(payload)),
		TopicArn: aws.String(n.topicARN),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "event could not be published")
	}
	n.logger.WithFields(logrus.Fields{"type": event.Type, "uid": event.DataResourceUID}).Debug("Event published")
	return nil
}
