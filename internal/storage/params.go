// Package storage manages the staging-side parameters: the S3 bucket
// payloads live in, the IAM policy granting access to it, the
// server-side encryption choice, and the default registry repo name.
package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
)

// Environment overrides consulted when the durable store has no value.
const (
	EnvBucket = "WEFT_S3_BUCKET"
	EnvRepo   = "WEFT_ECR_REPO"
)

// DefaultRepoName is the registry repo used when neither the store nor
// the environment names one.
const DefaultRepoName = "weft"

// Valid server-side encryption choices for staged payloads.
var validSSE = map[string]bool{
	"AES256":       true,
	"aws:kms":      true,
	"aws:kms:dsse": true,
}

// Params are the staging parameters threaded through every payload
// put.
type Params struct {
	Bucket string
	Policy string
	SSE    string // empty means no server-side encryption
}

// ResolveParams resolves the staging parameters with the fallback
// chain store -> environment -> generated default, persisting
// generated names so they stay stable across processes.
func ResolveParams() (Params, error) {
	var p Params

	bucket, ok, err := config.Get(config.SectionAWS, config.KeyBucket)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		bucket = os.Getenv(EnvBucket)
	}
	if bucket == "" {
		user := os.Getenv("USER")
		if user == "" {
			user = "user"
		}
		bucket = fmt.Sprintf("weft-%s-%s", user, uuid.NewString())
	}
	p.Bucket = bucket
	if err := config.Set(config.SectionAWS, config.KeyBucket, bucket); err != nil {
		return Params{}, err
	}

	policy, ok, err := config.Get(config.SectionAWS, config.KeyBucketPolicy)
	if err != nil {
		return Params{}, err
	}
	if !ok || policy == "" {
		policy = "weft-bucket-access-" + uuid.NewString()
		if err := config.Set(config.SectionAWS, config.KeyBucketPolicy, policy); err != nil {
			return Params{}, err
		}
	}
	p.Policy = policy

	sse, _, err := config.Get(config.SectionAWS, config.KeySSE)
	if err != nil {
		return Params{}, err
	}
	p.SSE = sse
	return p, nil
}

// SetParams validates p, makes the bucket and access policy real, and
// persists the parameters. A bucket rename points the existing policy
// at the new bucket.
func SetParams(ctx context.Context, s3api S3API, iamapi IAMAPI, p Params, owner string) error {
	if p.Bucket == "" {
		return &resource.InputError{Msg: "bucket name must not be empty"}
	}
	if p.SSE != "" && !validSSE[p.SSE] {
		return &resource.InputError{Msg: fmt.Sprintf(
			"server-side encryption %q is not one of AES256, aws:kms, aws:kms:dsse", p.SSE)}
	}
	if p.Policy == "" {
		p.Policy = "weft-bucket-access-" + uuid.NewString()
	}

	if err := EnsureBucket(ctx, s3api, p.Bucket, owner); err != nil {
		return err
	}
	if err := ensurePolicy(ctx, iamapi, p.Policy, p.Bucket); err != nil {
		return err
	}

	if err := config.Set(config.SectionAWS, config.KeyBucket, p.Bucket); err != nil {
		return err
	}
	if err := config.Set(config.SectionAWS, config.KeyBucketPolicy, p.Policy); err != nil {
		return err
	}
	return config.Set(config.SectionAWS, config.KeySSE, p.SSE)
}

// DefaultRepo resolves the registry repo name: store, then
// environment, then DefaultRepoName.
func DefaultRepo() (string, error) {
	repo, ok, err := config.Get(config.SectionAWS, config.KeyRepo)
	if err != nil {
		return "", err
	}
	if ok && repo != "" {
		return repo, nil
	}
	if env := os.Getenv(EnvRepo); env != "" {
		return env, nil
	}
	return DefaultRepoName, nil
}

// EnsureDefaultRepo adopt-or-creates the default registry repo and
// persists its name.
func EnsureDefaultRepo(ctx context.Context, api resource.ECRAPI, owner string) (*resource.Repo, error) {
	name, err := DefaultRepo()
	if err != nil {
		return nil, err
	}
	repo, err := resource.EnsureRepo(ctx, api, name, owner)
	if err != nil {
		return nil, err
	}
	if err := config.Set(config.SectionAWS, config.KeyRepo, name); err != nil {
		return nil, err
	}
	return repo, nil
}
