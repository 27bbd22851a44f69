package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// VectorIndexAPI is the narrow slice of the S3 Vectors client this module
// exercises. Declaring it as an interface (rather than depending on
// *s3vectors.Client directly) lets tests substitute a fake without an AWS
// account, mirroring the per-service API interface pattern used for EC2/IAM/
// SQS clients elsewhere in the ecosystem.
type VectorIndexAPI interface {
	CreateIndex(context.Context, *s3vectors.CreateIndexInput, ...func(*s3vectors.Options)) (*s3vectors.CreateIndexOutput, error)
	DeleteIndex(context.Context, *s3vectors.DeleteIndexInput, ...func(*s3vectors.Options)) (*s3vectors.DeleteIndexOutput, error)
	ListIndexes(context.Context, *s3vectors.ListIndexesInput, ...func(*s3vectors.Options)) (*s3vectors.ListIndexesOutput, error)
	QueryVectors(context.Context, *s3vectors.QueryVectorsInput, ...func(*s3vectors.Options)) (*s3vectors.QueryVectorsOutput, error)
}

// QueueAPI is the narrow slice of the SQS client this module exercises.
type QueueAPI interface {
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}
