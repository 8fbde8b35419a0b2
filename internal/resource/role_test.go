package resource

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/config"
)

func userMock(m *MockIAM) *MockIAM {
	m.GetUserFunc = func(ctx context.Context, in *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error) {
		return &iam.GetUserOutput{User: &iamtypes.User{
			UserName: aws.String("alice"),
			Arn:      aws.String("arn:aws:iam::123456789012:user/alice"),
		}}, nil
	}
	return m
}

func TestCreateRoleBatchService(t *testing.T) {
	initStore(t)

	var createdDoc string
	var attachedARNs []string
	api := userMock(&MockIAM{
		GetRoleFunc: func(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
			return nil, &iamtypes.NoSuchEntityException{}
		},
		CreateRoleFunc: func(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
			createdDoc = aws.ToString(in.AssumeRolePolicyDocument)
			return &iam.CreateRoleOutput{Role: &iamtypes.Role{
				Arn:      aws.String("arn:aws:iam::123456789012:role/my-role"),
				RoleName: in.RoleName,
			}}, nil
		},
		ListPoliciesFunc: func(ctx context.Context, in *iam.ListPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListPoliciesOutput, error) {
			// First page misses; the match is behind the marker.
			if in.Marker == nil {
				return &iam.ListPoliciesOutput{
					Policies:    []iamtypes.Policy{{PolicyName: aws.String("other"), Arn: aws.String("arn:other")}},
					IsTruncated: true,
					Marker:      aws.String("page-2"),
				}, nil
			}
			return &iam.ListPoliciesOutput{
				Policies: []iamtypes.Policy{{
					PolicyName: aws.String("AWSBatchServiceRole"),
					Arn:        aws.String("arn:aws:iam::aws:policy/service-role/AWSBatchServiceRole"),
				}},
			}, nil
		},
		AttachRolePolicyFunc: func(ctx context.Context, in *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
			attachedARNs = append(attachedARNs, aws.ToString(in.PolicyArn))
			return &iam.AttachRolePolicyOutput{}, nil
		},
	})

	role, err := CreateRole(context.Background(), api, RoleSpec{
		Name:        "my-role",
		Description: "service role",
		Service:     ServiceBatch,
		Policies:    []string{"AWSBatchServiceRole"},
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::123456789012:role/my-role", role.ARN())
	assert.Empty(t, role.InstanceProfileARN())
	assert.Equal(t, []string{"arn:aws:iam::aws:policy/service-role/AWSBatchServiceRole"}, attachedARNs)

	var doc struct {
		Statement []struct {
			Principal struct {
				Service string
			}
		}
	}
	require.NoError(t, json.Unmarshal([]byte(createdDoc), &doc))
	require.Len(t, doc.Statement, 1)
	assert.Equal(t, "batch.amazonaws.com", doc.Statement[0].Principal.Service)

	section, err := config.Section("roles default us-west-2")
	require.NoError(t, err)
	assert.Equal(t, role.ARN(), section["my-role"])
}

func TestCreateRoleRejectsUnknownService(t *testing.T) {
	initStore(t)

	_, err := CreateRole(context.Background(), &MockIAM{}, RoleSpec{Name: "r", Service: "lambda"})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
}

func TestCreateRoleExistingIsConflict(t *testing.T) {
	initStore(t)

	api := userMock(&MockIAM{
		GetRoleFunc: func(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
			return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName}}, nil
		},
	})

	_, err := CreateRole(context.Background(), api, RoleSpec{Name: "taken", Service: ServiceEC2})
	var exists *ExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "taken", exists.ID)
}

func TestCreateRoleWithInstanceProfile(t *testing.T) {
	initStore(t)

	var addedToProfile bool
	api := userMock(&MockIAM{
		GetRoleFunc: func(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
			return nil, &iamtypes.NoSuchEntityException{}
		},
		CreateRoleFunc: func(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
			return &iam.CreateRoleOutput{Role: &iamtypes.Role{Arn: aws.String("arn:role")}}, nil
		},
		CreateInstanceProfileFunc: func(ctx context.Context, in *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
			return &iam.CreateInstanceProfileOutput{InstanceProfile: &iamtypes.InstanceProfile{
				Arn: aws.String("arn:profile"),
			}}, nil
		},
		AddRoleToInstanceProfileFunc: func(ctx context.Context, in *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
			addedToProfile = true
			assert.Equal(t, aws.ToString(in.InstanceProfileName), aws.ToString(in.RoleName))
			return &iam.AddRoleToInstanceProfileOutput{}, nil
		},
	})

	role, err := CreateRole(context.Background(), api, RoleSpec{
		Name:            "ecs-role",
		Service:         ServiceEC2,
		InstanceProfile: true,
	})
	require.NoError(t, err)
	assert.True(t, addedToProfile)
	assert.Equal(t, "arn:profile", role.InstanceProfileARN())
}

func TestAdoptRoleNotFound(t *testing.T) {
	initStore(t)

	api := &MockIAM{
		GetRoleFunc: func(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
			return nil, &iamtypes.NoSuchEntityException{}
		},
	}

	_, err := AdoptRole(context.Background(), api, "gone")
	require.True(t, IsNotFound(err))
}

func TestAdoptRoleStampsOwnershipTags(t *testing.T) {
	initStore(t)

	var tagged map[string]string
	api := &MockIAM{
		GetRoleFunc: func(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
			return &iam.GetRoleOutput{Role: &iamtypes.Role{Arn: aws.String("arn:role")}}, nil
		},
		ListAttachedRolePoliciesFunc: func(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
			return &iam.ListAttachedRolePoliciesOutput{}, nil
		},
		ListInstanceProfilesForRoleFunc: func(ctx context.Context, in *iam.ListInstanceProfilesForRoleInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesForRoleOutput, error) {
			return &iam.ListInstanceProfilesForRoleOutput{}, nil
		},
		TagRoleFunc: func(ctx context.Context, in *iam.TagRoleInput, optFns ...func(*iam.Options)) (*iam.TagRoleOutput, error) {
			tagged = map[string]string{}
			for _, tag := range in.Tags {
				tagged[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			return &iam.TagRoleOutput{}, nil
		},
	}

	_, err := AdoptRole(context.Background(), api, "found")
	require.NoError(t, err)
	require.NotNil(t, tagged, "adoption must tag the remote role")
	assert.Equal(t, "found", tagged[TagName])
	assert.Equal(t, EnvironmentValue, tagged[TagEnvironment])
}

func TestRoleClobber(t *testing.T) {
	initStore(t)

	var calls []string
	api := &MockIAM{
		GetRoleFunc: func(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
			return &iam.GetRoleOutput{Role: &iamtypes.Role{Arn: aws.String("arn:role")}}, nil
		},
		TagRoleFunc: func(ctx context.Context, in *iam.TagRoleInput, optFns ...func(*iam.Options)) (*iam.TagRoleOutput, error) {
			return &iam.TagRoleOutput{}, nil
		},
		ListAttachedRolePoliciesFunc: func(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
			return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: []iamtypes.AttachedPolicy{
				{PolicyArn: aws.String("arn:policy"), PolicyName: aws.String("p")},
			}}, nil
		},
		ListInstanceProfilesForRoleFunc: func(ctx context.Context, in *iam.ListInstanceProfilesForRoleInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesForRoleOutput, error) {
			return &iam.ListInstanceProfilesForRoleOutput{InstanceProfiles: []iamtypes.InstanceProfile{
				{Arn: aws.String("arn:profile")},
			}}, nil
		},
		DetachRolePolicyFunc: func(ctx context.Context, in *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
			calls = append(calls, "detach")
			return &iam.DetachRolePolicyOutput{}, nil
		},
		RemoveRoleFromInstanceProfileFunc: func(ctx context.Context, in *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
			calls = append(calls, "remove-from-profile")
			return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
		},
		DeleteInstanceProfileFunc: func(ctx context.Context, in *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
			calls = append(calls, "delete-profile")
			return &iam.DeleteInstanceProfileOutput{}, nil
		},
		DeleteRoleFunc: func(ctx context.Context, in *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
			calls = append(calls, "delete-role")
			return &iam.DeleteRoleOutput{}, nil
		},
	}

	role, err := AdoptRole(context.Background(), api, "doomed")
	require.NoError(t, err)

	require.NoError(t, role.Clobber(context.Background()))
	assert.Equal(t, []string{"detach", "remove-from-profile", "delete-profile", "delete-role"}, calls)
	assert.True(t, role.Clobbered())

	section, err := config.Section("roles default us-west-2")
	require.NoError(t, err)
	assert.NotContains(t, section, "doomed")

	// A second clobber is a no-op.
	require.NoError(t, role.Clobber(context.Background()))
	assert.Len(t, calls, 4)
}
