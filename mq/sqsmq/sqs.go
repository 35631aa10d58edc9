package sqsmq

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/mq"
)

// Long-poll duration per Receive call. Kept short relative to the account
// consumer's visibility timeout so shutdown never strands an in-flight
// message for long.
const waitTimeSeconds = 20

type SQSMessageQueue struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

func NewSQSMessageQueue(ctx context.Context, devMode bool, sqsEndpoint string, queueName string, logger *zap.Logger) (*SQSMessageQueue, error) {
	client, err := newSQSClient(ctx, devMode, sqsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqs client: %w", err)
	}

	queueURL, err := resolveQueueURL(ctx, client, queueName)
	if err != nil {
		return nil, err
	}

	logger.Info("connected to sqs queue", zap.String("queueURL", queueURL))

	return &SQSMessageQueue{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}, nil
}

func (q *SQSMessageQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", q.queueURL, err)
	}
	return nil
}

// Receive long-polls for a single message. A nil message with a nil error
// means the poll came back empty; callers loop.
func (q *SQSMessageQueue) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitTimeSeconds,
		VisibilityTimeout:   visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q.queueURL, err)
	}

	if len(resp.Messages) == 0 {
		return nil, nil
	}

	received := resp.Messages[0]
	return &mq.Message{
		Id:   aws.ToString(received.ReceiptHandle),
		Body: aws.ToString(received.Body),
	}, nil
}

// Delete acknowledges a received message by its receipt handle. An
// unacknowledged message reappears once its visibility timeout lapses.
func (q *SQSMessageQueue) Delete(ctx context.Context, msg *mq.Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", q.queueURL, err)
	}
	return nil
}

// resolveQueueURL finds the queue by name. Environments prefix queue names,
// so match on the trailing path segment.
func resolveQueueURL(ctx context.Context, client *sqs.Client, queueName string) (string, error) {
	output, err := client.ListQueues(ctx, &sqs.ListQueuesInput{})
	if err != nil {
		return "", fmt.Errorf("failed to list sqs queues: %w", err)
	}

	for _, url := range output.QueueUrls {
		if strings.HasSuffix(url, "/"+queueName) {
			return url, nil
		}
	}

	return "", fmt.Errorf("queue %q not found in sqs", queueName)
}
