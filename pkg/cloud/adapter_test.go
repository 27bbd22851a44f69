package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"
)

type fakeVectorAPI struct {
	createErr error
	deleteErr error
	created   []string
	deleted   []string
}

func (f *fakeVectorAPI) CreateIndex(_ context.Context, in *s3vectors.CreateIndexInput, _ ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, *in.IndexName)
	return &s3vectors.CreateIndexOutput{}, nil
}

func (f *fakeVectorAPI) DeleteIndex(_ context.Context, in *s3vectors.DeleteIndexInput, _ ...func(*s3vectors.Options)) (*s3vectors.DeleteIndexOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, *in.IndexArn)
	return &s3vectors.DeleteIndexOutput{}, nil
}

func (f *fakeVectorAPI) ListIndexes(_ context.Context, _ *s3vectors.ListIndexesInput, _ ...func(*s3vectors.Options)) (*s3vectors.ListIndexesOutput, error) {
	return &s3vectors.ListIndexesOutput{}, nil
}

func (f *fakeVectorAPI) QueryVectors(_ context.Context, _ *s3vectors.QueryVectorsInput, _ ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error) {
	return &s3vectors.QueryVectorsOutput{}, nil
}

type fakeQueueAPI struct {
	sendErr error
}

func (f *fakeQueueAPI) SendMessage(_ context.Context, _ *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeQueueAPI) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeQueueAPI) DeleteMessage(_ context.Context, _ *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

type apiError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *apiError) Error() string             { return e.code }
func (e *apiError) ErrorCode() string          { return e.code }
func (e *apiError) ErrorMessage() string       { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return e.fault }

func TestAdapter_CreateIndex_Success(t *testing.T) {
	vec := &fakeVectorAPI{}
	a := New(vec, &fakeQueueAPI{}, "queue-url")

	err := a.CreateIndex(context.Background(), CreateIndexParams{
		BucketARN: "arn:bucket", IndexName: "idx-1", Dimension: 1024,
	})
	if err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if len(vec.created) != 1 || vec.created[0] != "idx-1" {
		t.Fatalf("expected index idx-1 created, got %v", vec.created)
	}
}

func TestAdapter_CreateIndex_Transient(t *testing.T) {
	vec := &fakeVectorAPI{createErr: &apiError{code: "ThrottlingException", fault: smithy.FaultServer}}
	a := New(vec, &fakeQueueAPI{}, "queue-url")

	err := a.CreateIndex(context.Background(), CreateIndexParams{BucketARN: "b", IndexName: "i", Dimension: 1})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestAdapter_CreateIndex_Permanent(t *testing.T) {
	vec := &fakeVectorAPI{createErr: &apiError{code: "AccessDeniedException", fault: smithy.FaultClient}}
	a := New(vec, &fakeQueueAPI{}, "queue-url")

	err := a.CreateIndex(context.Background(), CreateIndexParams{BucketARN: "b", IndexName: "i", Dimension: 1})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
}

func TestAdapter_DeleteIndex_NotFoundIsSuccess(t *testing.T) {
	vec := &fakeVectorAPI{deleteErr: &apiError{code: "NotFoundException", fault: smithy.FaultClient}}
	a := New(vec, &fakeQueueAPI{}, "queue-url")

	if err := a.DeleteIndex(context.Background(), "bucket", "arn:idx"); err != nil {
		t.Fatalf("DeleteIndex() with NotFoundException should succeed, got %v", err)
	}
}

func TestAdapter_DeleteIndex_Success(t *testing.T) {
	vec := &fakeVectorAPI{}
	a := New(vec, &fakeQueueAPI{}, "queue-url")

	if err := a.DeleteIndex(context.Background(), "bucket", "arn:idx-1"); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	if len(vec.deleted) != 1 || vec.deleted[0] != "arn:idx-1" {
		t.Fatalf("expected arn:idx-1 deleted, got %v", vec.deleted)
	}
}

func TestAdapter_SendQueueMessage_Config(t *testing.T) {
	q := &fakeQueueAPI{sendErr: &apiError{code: "InvalidClientTokenId", fault: smithy.FaultClient}}
	a := New(&fakeVectorAPI{}, q, "queue-url")

	err := a.SendQueueMessage(context.Background(), `{"foo":"bar"}`)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
