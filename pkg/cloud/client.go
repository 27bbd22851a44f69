package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// NewVectorIndexAPI resolves AWS credentials/region through the SDK's default
// chain (env, shared config, IMDS) and returns a ready-to-use S3 Vectors
// client. region overrides the default chain's resolved region when non-empty.
func NewVectorIndexAPI(ctx context.Context, region string) (VectorIndexAPI, error) {
	cfg, err := loadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return s3vectors.NewFromConfig(cfg), nil
}

// NewQueueAPI resolves AWS credentials/region and returns a ready-to-use SQS client.
func NewQueueAPI(ctx context.Context, region string) (QueueAPI, error) {
	cfg, err := loadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

func loadConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, &ConfigError{Cause: err}
	}
	return cfg, nil
}
