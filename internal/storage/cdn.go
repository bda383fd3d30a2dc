package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
)

// CDN invalidates cached objects after deletion so stale assets do not
// outlive their source.
type CDN struct {
	client         *cloudfront.Client
	distributionID string
}

// NewCDN builds the CloudFront client.
func NewCDN(ctx context.Context, region, distributionID string) (*CDN, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CDN{client: cloudfront.NewFromConfig(awsCfg), distributionID: distributionID}, nil
}

// Invalidate submits an invalidation for the given paths. Paths must be
// absolute ("/uploads/...").
func (c *CDN) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	_, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("aegis-%d", time.Now().UnixNano())),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create invalidation: %w", err)
	}
	return nil
}
