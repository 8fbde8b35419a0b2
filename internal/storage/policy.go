package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/weftlabs/weft/internal/resource"
)

// policyPath namespaces every policy this package creates.
const policyPath = "/weft/"

// IAMAPI is the subset of the IAM client used for the bucket access
// policy.
type IAMAPI interface {
	CreatePolicy(ctx context.Context, in *iam.CreatePolicyInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyOutput, error)
	CreatePolicyVersion(ctx context.Context, in *iam.CreatePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error)
	ListPolicyVersions(ctx context.Context, in *iam.ListPolicyVersionsInput, optFns ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error)
	DeletePolicyVersion(ctx context.Context, in *iam.DeletePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error)
	ListPolicies(ctx context.Context, in *iam.ListPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListPoliciesOutput, error)
}

// ensurePolicy makes the access policy named name grant staging access
// to bucket. An existing policy gets a new default version pointing at
// the (possibly renamed) bucket; the oldest non-default version is
// evicted when the five-version ceiling is hit.
func ensurePolicy(ctx context.Context, api IAMAPI, name, bucket string) error {
	doc, err := policyDocument(bucket)
	if err != nil {
		return err
	}

	_, err = api.CreatePolicy(ctx, &iam.CreatePolicyInput{
		PolicyName:     aws.String(name),
		Path:           aws.String(policyPath),
		PolicyDocument: aws.String(doc),
	})
	if err == nil {
		log.Printf("[storage] Created bucket access policy %s", name)
		return nil
	}
	var exists *iamtypes.EntityAlreadyExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("failed to create policy %s: %w", name, err)
	}

	arn, err := findPolicyARN(ctx, api, name)
	if err != nil {
		return err
	}
	return setDefaultVersion(ctx, api, arn, doc)
}

// setDefaultVersion publishes doc as the policy's default version,
// evicting the oldest non-default version once if the version ceiling
// is hit.
func setDefaultVersion(ctx context.Context, api IAMAPI, arn, doc string) error {
	in := &iam.CreatePolicyVersionInput{
		PolicyArn:      aws.String(arn),
		PolicyDocument: aws.String(doc),
		SetAsDefault:   true,
	}

	_, err := api.CreatePolicyVersion(ctx, in)
	if err == nil {
		return nil
	}
	var limit *iamtypes.LimitExceededException
	if !errors.As(err, &limit) {
		return fmt.Errorf("failed to update policy %s: %w", arn, err)
	}

	if err := evictOldestVersion(ctx, api, arn); err != nil {
		return err
	}
	if _, err := api.CreatePolicyVersion(ctx, in); err != nil {
		return fmt.Errorf("failed to update policy %s after evicting a version: %w", arn, err)
	}
	return nil
}

func evictOldestVersion(ctx context.Context, api IAMAPI, arn string) error {
	out, err := api.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{PolicyArn: aws.String(arn)})
	if err != nil {
		return err
	}

	var oldest *iamtypes.PolicyVersion
	for i := range out.Versions {
		v := &out.Versions[i]
		if v.IsDefaultVersion {
			continue
		}
		if oldest == nil || createDate(v).Before(createDate(oldest)) {
			oldest = v
		}
	}
	if oldest == nil {
		return fmt.Errorf("policy %s is at its version ceiling with no evictable version", arn)
	}

	_, err = api.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: oldest.VersionId,
	})
	if err != nil {
		return fmt.Errorf("failed to evict policy version %s: %w", aws.ToString(oldest.VersionId), err)
	}
	log.Printf("[storage] Evicted policy version %s of %s", aws.ToString(oldest.VersionId), arn)
	return nil
}

func createDate(v *iamtypes.PolicyVersion) time.Time {
	if v.CreateDate == nil {
		return time.Time{}
	}
	return *v.CreateDate
}

func findPolicyARN(ctx context.Context, api IAMAPI, name string) (string, error) {
	var marker *string
	for {
		out, err := api.ListPolicies(ctx, &iam.ListPoliciesInput{
			Scope:      iamtypes.PolicyScopeTypeLocal,
			PathPrefix: aws.String(policyPath),
			Marker:     marker,
		})
		if err != nil {
			return "", err
		}
		for _, p := range out.Policies {
			if aws.ToString(p.PolicyName) == name {
				return aws.ToString(p.Arn), nil
			}
		}
		if !out.IsTruncated || out.Marker == nil {
			return "", &resource.NotFoundError{ID: name}
		}
		marker = out.Marker
	}
}

// policyDocument grants list access on the bucket and read/write on
// its objects.
func policyDocument(bucket string) (string, error) {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":   "Allow",
				"Action":   []string{"s3:ListBucket"},
				"Resource": "arn:aws:s3:::" + bucket,
			},
			{
				"Effect":   "Allow",
				"Action":   []string{"s3:GetObject", "s3:PutObject"},
				"Resource": "arn:aws:s3:::" + bucket + "/*",
			},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy document: %w", err)
	}
	return string(b), nil
}
