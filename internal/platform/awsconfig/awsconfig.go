// Package awsconfig loads the shared AWS SDK configuration for SNS and S3.
package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"

	"webkart/internal/platform/config"
)

// Load resolves credentials through the default chain (environment, shared
// files, instance role) for cfg.Region.
func Load(ctx context.Context, cfg config.AWS) (aws.Config, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}
