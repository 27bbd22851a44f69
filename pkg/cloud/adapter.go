package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"
)

// Adapter is the synchronous, blocking interface to the remote vector index
// service and message queue. It performs no retries of its own — retry/
// backoff policy belongs to the caller.
type Adapter struct {
	vectorAPI VectorIndexAPI
	queueAPI  QueueAPI
	queueURL  string
}

// New constructs an Adapter from already-built service clients and the
// target queue URL.
func New(vectorAPI VectorIndexAPI, queueAPI QueueAPI, queueURL string) *Adapter {
	return &Adapter{vectorAPI: vectorAPI, queueAPI: queueAPI, queueURL: queueURL}
}

// CreateIndexParams describes a new vector index to provision.
type CreateIndexParams struct {
	BucketARN         string
	IndexName         string
	Dimension         int32
	NonFilterableKeys []string
}

// CreateIndex provisions a new vector index. Failures are classified into
// ErrConfig, ErrTransient, or ErrPermanent.
func (a *Adapter) CreateIndex(ctx context.Context, p CreateIndexParams) error {
	_, err := a.vectorAPI.CreateIndex(ctx, &s3vectors.CreateIndexInput{
		VectorBucketArn: &p.BucketARN,
		IndexName:       &p.IndexName,
		DataType:        types.DataTypeFloat32,
		Dimension:       &p.Dimension,
		DistanceMetric:  types.DistanceMetricCosine,
		MetadataConfiguration: &types.MetadataConfiguration{
			NonFilterableMetadataKeys: p.NonFilterableKeys,
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// DeleteIndex tears down a vector index. "Not found" is treated as success —
// idempotency here is load-bearing for the cleanup sweep's correctness.
func (a *Adapter) DeleteIndex(ctx context.Context, bucketName, indexARN string) error {
	_, err := a.vectorAPI.DeleteIndex(ctx, &s3vectors.DeleteIndexInput{
		VectorBucketName: &bucketName,
		IndexArn:         &indexARN,
	})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFoundException" {
		return nil
	}
	return classify(err)
}

// ListIndexes returns the remote index count for the given bucket. No
// provisioner, facade or HTTP code path in this module calls it.
func (a *Adapter) ListIndexes(ctx context.Context, bucketARN string) (int, error) {
	count := 0
	var token *string
	for {
		out, err := a.vectorAPI.ListIndexes(ctx, &s3vectors.ListIndexesInput{
			VectorBucketArn: &bucketARN,
			NextToken:       token,
		})
		if err != nil {
			return 0, classify(err)
		}
		count += len(out.Indexes)
		if out.NextToken == nil {
			return count, nil
		}
		token = out.NextToken
	}
}

// QueueMessage is the envelope produced for the ingestion worker on KB
// document operations. Exactly one of IndexKBDocID / DeleteKBDocID should be
// populated per message; consumers must tolerate unknown fields.
type QueueMessage struct {
	IngestionJobID int64           `json:"ingestion_job_id"`
	IndexKBDocID   []DocOpEntry    `json:"index_kb_doc_id,omitempty"`
	DeleteKBDocID  []DocOpEntry    `json:"delete_kb_doc_id,omitempty"`
	IndexARN       string          `json:"index_arn"`
	KBID           int64           `json:"kb_id"`
	UserID         int64           `json:"user_id"`
}

// DocOpEntry names one document within a QueueMessage's index/delete batch.
type DocOpEntry struct {
	KBDocID  int64   `json:"kb_doc_id"`
	DocID    int64   `json:"doc_id"`
	FileName string  `json:"file_name"`
	ObjectKey *string `json:"object_key,omitempty"`
}

// SendQueueMessage enqueues body (serialized by the caller) for the
// ingestion worker.
func (a *Adapter) SendQueueMessage(ctx context.Context, body string) error {
	_, err := a.queueAPI.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &a.queueURL,
		MessageBody: &body,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// ReceivedMessage is one message pulled from the queue.
type ReceivedMessage struct {
	Body          string
	ReceiptHandle string
}

// ReceiveQueueMessages long-polls for up to max messages.
func (a *Adapter) ReceiveQueueMessages(ctx context.Context, max int32, waitSeconds int32) ([]ReceivedMessage, error) {
	out, err := a.queueAPI.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &a.queueURL,
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, classify(err)
	}

	msgs := make([]ReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		if m.Body == nil || m.ReceiptHandle == nil {
			continue
		}
		msgs = append(msgs, ReceivedMessage{Body: *m.Body, ReceiptHandle: *m.ReceiptHandle})
	}
	return msgs, nil
}

// DeleteQueueMessage removes a message by receipt handle. Idempotent.
func (a *Adapter) DeleteQueueMessage(ctx context.Context, receiptHandle string) error {
	_, err := a.queueAPI.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &a.queueURL,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ReceiptHandleIsInvalid" {
			return nil
		}
		return classify(err)
	}
	return nil
}

// classify maps a smithy API error onto the stable {ErrConfig, ErrTransient,
// ErrPermanent} taxonomy so higher layers never inspect vendor error codes.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch apiErr.ErrorCode() {
	case "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException",
		"ServiceUnavailableException", "InternalServerError", "KMSThrottlingException":
		return fmt.Errorf("%w: %s: %s", ErrTransient, apiErr.ErrorCode(), apiErr.ErrorMessage())
	case "AccessDeniedException", "UnauthorizedException", "ValidationException",
		"ConflictException", "InvalidParameterValueException":
		return fmt.Errorf("%w: %s: %s", ErrPermanent, apiErr.ErrorCode(), apiErr.ErrorMessage())
	case "UnrecognizedClientException", "InvalidClientTokenId", "MissingAuthenticationTokenException":
		return fmt.Errorf("%w: %s: %s", ErrConfig, apiErr.ErrorCode(), apiErr.ErrorMessage())
	default:
		if apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%w: %s: %s", ErrTransient, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("%w: %s: %s", ErrPermanent, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
}
