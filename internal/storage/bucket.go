package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
	"github.com/weftlabs/weft/internal/util/retry"
)

// S3API is the subset of the S3 client used for bucket setup.
type S3API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutBucketTagging(ctx context.Context, in *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
}

// EnsureBucket makes the staging bucket exist in the active region and
// tags it. "Already exists" is resolved by verifying access once: if
// the bucket answers a head request it is adopted, otherwise the
// create error surfaces. No open-ended create/retry loop.
func EnsureBucket(ctx context.Context, api S3API, bucket, owner string) error {
	region, err := config.Region()
	if err != nil {
		return err
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	_, createErr := api.CreateBucket(ctx, in)
	if createErr != nil {
		if !bucketExistsError(createErr) {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, createErr)
		}
		headErr := retry.Do(ctx, 2, 500*time.Millisecond, func() error {
			_, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
			return err
		})
		if headErr != nil {
			return fmt.Errorf("bucket %s already exists and is not accessible: %w", bucket, createErr)
		}
		log.Printf("[storage] Adopted existing bucket %s", bucket)
	} else {
		log.Printf("[storage] Created bucket %s", bucket)
	}

	tags, err := resource.Tags(bucket, owner, nil)
	if err != nil {
		return err
	}
	_, err = api.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: resource.S3Tags(tags)},
	})
	if err != nil {
		return fmt.Errorf("failed to tag bucket %s: %w", bucket, err)
	}
	return nil
}

func bucketExistsError(err error) bool {
	var owned *s3types.BucketAlreadyOwnedByYou
	var taken *s3types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &taken)
}
