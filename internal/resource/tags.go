package resource

import (
	"sort"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Reserved tag keys. Every resource weft creates or adopts is stamped
// with these; callers may not override them.
const (
	TagName        = "Name"
	TagOwner       = "Owner"
	TagEnvironment = "Environment"

	// EnvironmentValue is the fixed ownership marker.
	EnvironmentValue = "weft"
)

// Tags merges the fixed ownership tags with caller-supplied extras.
// Extras using a reserved key are rejected with an InputError.
func Tags(name, owner string, extra map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(extra)+3)
	for k, v := range extra {
		switch k {
		case TagName, TagOwner, TagEnvironment:
			return nil, inputErrorf("tag key %q is reserved", k)
		}
		out[k] = v
	}
	out[TagName] = name
	out[TagEnvironment] = EnvironmentValue
	if owner != "" {
		out[TagOwner] = owner
	}
	return out, nil
}

// sortedKeys gives the per-service converters a deterministic order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func iamTags(m map[string]string) []iamtypes.Tag {
	out := make([]iamtypes.Tag, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, iamtypes.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}

func ec2Tags(m map[string]string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}

func ecrTags(m map[string]string) []ecrtypes.Tag {
	out := make([]ecrtypes.Tag, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, ecrtypes.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}

// S3Tags is exported for the storage package, which tags the staging
// bucket with the same ownership marker.
func S3Tags(m map[string]string) []s3types.Tag {
	out := make([]s3types.Tag, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, s3types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}
