package resource

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNetwork(t *testing.T) *Network {
	t.Helper()
	base, err := NewBase("net")
	require.NoError(t, err)
	return &Network{Base: base, vpcID: "vpc-123", cidr: "10.0.0.0/16"}
}

func TestCreateSecurityGroupOpensSelfIngress(t *testing.T) {
	initStore(t)

	var perms []ec2types.IpPermission
	api := &MockEC2{
		DescribeSecurityGroupsFunc: func(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
			return &ec2.DescribeSecurityGroupsOutput{}, nil
		},
		CreateSecurityGroupFunc: func(ctx context.Context, in *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
			assert.Equal(t, "vpc-123", aws.ToString(in.VpcId))
			return &ec2.CreateSecurityGroupOutput{GroupId: aws.String("sg-42")}, nil
		},
		AuthorizeSecurityGroupIngressFunc: func(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
			perms = in.IpPermissions
			return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
		},
		CreateTagsFunc: func(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			return &ec2.CreateTagsOutput{}, nil
		},
	}

	sg, err := CreateSecurityGroup(context.Background(), api, SecurityGroupSpec{
		Name:    "my-sg",
		Network: testNetwork(t),
		Owner:   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "sg-42", sg.GroupID())
	assert.Equal(t, "vpc-123", sg.VPCID())

	require.Len(t, perms, 3)
	ports := []int32{aws.ToInt32(perms[0].FromPort), aws.ToInt32(perms[1].FromPort)}
	assert.ElementsMatch(t, []int32{80, 443}, ports)
	require.Len(t, perms[2].UserIdGroupPairs, 1)
	assert.Equal(t, "sg-42", aws.ToString(perms[2].UserIdGroupPairs[0].GroupId))
	assert.Equal(t, "-1", aws.ToString(perms[2].IpProtocol))
}

func TestCreateSecurityGroupRequiresNetwork(t *testing.T) {
	initStore(t)

	_, err := CreateSecurityGroup(context.Background(), &MockEC2{}, SecurityGroupSpec{Name: "my-sg"})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
}

func TestCreateSecurityGroupExistingIsConflict(t *testing.T) {
	initStore(t)

	api := &MockEC2{
		DescribeSecurityGroupsFunc: func(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
			return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: []ec2types.SecurityGroup{
				{GroupId: aws.String("sg-existing")},
			}}, nil
		},
	}

	_, err := CreateSecurityGroup(context.Background(), api, SecurityGroupSpec{
		Name:    "my-sg",
		Network: testNetwork(t),
	})
	var exists *ExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "sg-existing", exists.ID)
}

func TestAdoptSecurityGroupStampsOwnershipTags(t *testing.T) {
	initStore(t)

	var taggedResources []string
	var tagged map[string]string
	api := &MockEC2{
		DescribeSecurityGroupsFunc: func(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
			return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: []ec2types.SecurityGroup{
				{GroupId: aws.String("sg-42"), VpcId: aws.String("vpc-123"), Description: aws.String("custom")},
			}}, nil
		},
		CreateTagsFunc: func(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			taggedResources = in.Resources
			tagged = map[string]string{}
			for _, tag := range in.Tags {
				tagged[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			return &ec2.CreateTagsOutput{}, nil
		},
	}

	sg, err := AdoptSecurityGroup(context.Background(), api, "my-sg", "sg-42")
	require.NoError(t, err)
	assert.Equal(t, "custom", sg.Description())
	require.NotNil(t, tagged, "adoption must tag the remote security group")
	assert.Equal(t, []string{"sg-42"}, taggedResources)
	assert.Equal(t, "my-sg", tagged[TagName])
	assert.Equal(t, EnvironmentValue, tagged[TagEnvironment])
}

func TestSecurityGroupClobberToleratesMissingGroup(t *testing.T) {
	initStore(t)

	api := &MockEC2{
		DescribeSecurityGroupsFunc: func(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
			return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: []ec2types.SecurityGroup{
				{GroupId: aws.String("sg-42"), VpcId: aws.String("vpc-123"), Description: aws.String("d")},
			}}, nil
		},
		CreateTagsFunc: func(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			return &ec2.CreateTagsOutput{}, nil
		},
		DeleteSecurityGroupFunc: func(ctx context.Context, in *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "InvalidGroup.NotFound"}
		},
	}

	sg, err := AdoptSecurityGroup(context.Background(), api, "my-sg", "sg-42")
	require.NoError(t, err)

	require.NoError(t, sg.Clobber(context.Background()))
	assert.True(t, sg.Clobbered())
}
