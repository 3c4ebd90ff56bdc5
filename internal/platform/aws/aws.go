// Package aws loads the SDK configuration shared by the DynamoDB, S3 and SNS clients.
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"agegate/internal/platform/config"
)

// Load builds an aws.Config. Static credentials are used when provided,
// otherwise the default provider chain applies.
func Load(ctx context.Context, cfg config.AWS) (awssdk.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewDynamoDB creates a DynamoDB client, honouring the LocalStack endpoint override.
func NewDynamoDB(awsCfg awssdk.Config, cfg config.AWS) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = awssdk.String(cfg.EndpointURL)
		}
	})
}

// NewS3 creates an S3 client. LocalStack needs path-style addressing.
func NewS3(awsCfg awssdk.Config, cfg config.AWS) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = awssdk.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
}

// NewSNS creates an SNS client.
func NewSNS(awsCfg awssdk.Config, cfg config.AWS) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = awssdk.String(cfg.EndpointURL)
		}
	})
}
