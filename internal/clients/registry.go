// Package clients supplies cached AWS service clients bound to the
// active profile/region selection.
//
// Handles are built lazily on first use, one lock per service so
// concurrent first-access callers never construct duplicates. Reset
// drops every handle; it runs whenever the active profile or region
// changes so that the change is reflected everywhere.
package clients

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/weftlabs/weft/internal/config"
)

// loadAWSConfig is a seam for tests.
var loadAWSConfig = defaultAWSConfig

func defaultAWSConfig(ctx context.Context) (aws.Config, error) {
	region, err := config.Region()
	if err != nil {
		return aws.Config{}, err
	}
	profile, err := config.Profile()
	if err != nil {
		return aws.Config{}, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != config.ProfileFromEnv {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// Registry holds one cached client per AWS service.
//
// The zero value is ready to use; no handle is constructed before its
// first access.
type Registry struct {
	iam   handle[iam.Client]
	ec2   handle[ec2.Client]
	ecr   handle[ecr.Client]
	batch handle[batch.Client]
	s3    handle[s3.Client]
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// IAM returns the cached IAM client, building it on first use.
func (r *Registry) IAM(ctx context.Context) (*iam.Client, error) {
	return get(ctx, &r.iam, func(cfg aws.Config) *iam.Client { return iam.NewFromConfig(cfg) })
}

// EC2 returns the cached EC2 client, building it on first use.
func (r *Registry) EC2(ctx context.Context) (*ec2.Client, error) {
	return get(ctx, &r.ec2, func(cfg aws.Config) *ec2.Client { return ec2.NewFromConfig(cfg) })
}

// ECR returns the cached ECR client, building it on first use.
func (r *Registry) ECR(ctx context.Context) (*ecr.Client, error) {
	return get(ctx, &r.ecr, func(cfg aws.Config) *ecr.Client { return ecr.NewFromConfig(cfg) })
}

// Batch returns the cached Batch client, building it on first use.
func (r *Registry) Batch(ctx context.Context) (*batch.Client, error) {
	return get(ctx, &r.batch, func(cfg aws.Config) *batch.Client { return batch.NewFromConfig(cfg) })
}

// S3 returns the cached S3 client, building it on first use.
func (r *Registry) S3(ctx context.Context) (*s3.Client, error) {
	return get(ctx, &r.s3, func(cfg aws.Config) *s3.Client { return s3.NewFromConfig(cfg) })
}

// Reset drops all cached handles. The next access to each service
// rebuilds its client from the then-active profile/region.
func (r *Registry) Reset() {
	r.iam.reset()
	r.ec2.reset()
	r.ecr.reset()
	r.batch.reset()
	r.s3.reset()
}
