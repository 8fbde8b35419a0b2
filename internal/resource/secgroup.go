package resource

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/weftlabs/weft/internal/config"
)

const sectionSecurityGroups = "security-groups"

// SecurityGroup is a VPC security group scoped to one network. Compute
// environments attach it to every container instance they launch.
type SecurityGroup struct {
	Base
	api EC2API

	groupID     string
	vpcID       string
	description string
}

// SecurityGroupSpec describes a security group to create.
type SecurityGroupSpec struct {
	Name        string
	Network     *Network
	Description string
	Owner       string
	Tags        map[string]string
}

// AdoptSecurityGroup binds to an existing security group by ID.
func AdoptSecurityGroup(ctx context.Context, api EC2API, name, groupID string) (*SecurityGroup, error) {
	base, err := NewBase(name)
	if err != nil {
		return nil, err
	}

	out, err := api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{groupID}})
	if err != nil {
		if apiErrorCode(err, "InvalidGroup.NotFound", "InvalidGroupId.Malformed") {
			return nil, &NotFoundError{ID: groupID}
		}
		return nil, err
	}
	if len(out.SecurityGroups) == 0 {
		return nil, &NotFoundError{ID: groupID}
	}
	group := out.SecurityGroups[0]

	sg := &SecurityGroup{
		Base:        base,
		api:         api,
		groupID:     groupID,
		vpcID:       aws.ToString(group.VpcId),
		description: aws.ToString(group.Description),
	}

	// Adoption stamps the ownership tags just like creation does.
	tags, err := Tags(name, "", nil)
	if err != nil {
		return nil, err
	}
	if _, err := api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{groupID},
		Tags:      ec2Tags(tags),
	}); err != nil {
		return nil, fmt.Errorf("failed to tag security group %s: %w", groupID, err)
	}

	if err := config.AddResource(sg.SectionName(sectionSecurityGroups), name, groupID); err != nil {
		return nil, err
	}
	log.Printf("[resource] Adopted security group %s (%s)", name, groupID)
	return sg, nil
}

// CreateSecurityGroup creates a group in spec.Network and opens HTTP
// and HTTPS ingress plus all traffic between members of the group. A
// group already carrying the name in the same VPC yields an
// *ExistsError with its group ID.
func CreateSecurityGroup(ctx context.Context, api EC2API, spec SecurityGroupSpec) (*SecurityGroup, error) {
	base, err := NewBase(spec.Name)
	if err != nil {
		return nil, err
	}
	if spec.Network == nil {
		return nil, inputErrorf("security group %s needs a network", spec.Name)
	}

	description := spec.Description
	if description == "" {
		description = fmt.Sprintf("security group for weft in VPC %s", spec.Network.VPCID())
	}

	existing, err := api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{spec.Name}},
			{Name: aws.String("vpc-id"), Values: []string{spec.Network.VPCID()}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(existing.SecurityGroups) > 0 {
		return nil, &ExistsError{ID: aws.ToString(existing.SecurityGroups[0].GroupId)}
	}

	tags, err := Tags(spec.Name, spec.Owner, spec.Tags)
	if err != nil {
		return nil, err
	}

	created, err := api.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(spec.Name),
		Description: aws.String(description),
		VpcId:       aws.String(spec.Network.VPCID()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group %s: %w", spec.Name, err)
	}
	groupID := aws.ToString(created.GroupId)

	if _, err := api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(80),
				ToPort:     aws.Int32(80),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
			{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(443),
				ToPort:     aws.Int32(443),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
			{
				IpProtocol:       aws.String("-1"),
				UserIdGroupPairs: []ec2types.UserIdGroupPair{{GroupId: aws.String(groupID)}},
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to authorize ingress for %s: %w", groupID, err)
	}

	if _, err := api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{groupID},
		Tags:      ec2Tags(tags),
	}); err != nil {
		return nil, fmt.Errorf("failed to tag security group %s: %w", groupID, err)
	}

	sg := &SecurityGroup{
		Base:        base,
		api:         api,
		groupID:     groupID,
		vpcID:       spec.Network.VPCID(),
		description: description,
	}
	if err := config.AddResource(sg.SectionName(sectionSecurityGroups), spec.Name, groupID); err != nil {
		return nil, err
	}
	log.Printf("[resource] Created security group %s (%s)", spec.Name, groupID)
	return sg, nil
}

// GroupID returns the security group's ID.
func (sg *SecurityGroup) GroupID() string { return sg.groupID }

// VPCID returns the VPC the group lives in.
func (sg *SecurityGroup) VPCID() string { return sg.vpcID }

// Description returns the group's description.
func (sg *SecurityGroup) Description() string { return sg.description }

// Clobber deletes the group and drops its durable record. Must run
// before the owning network is clobbered.
func (sg *SecurityGroup) Clobber(ctx context.Context) error {
	if sg.Clobbered() {
		return nil
	}
	if err := sg.CheckSession(); err != nil {
		return err
	}

	if _, err := sg.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(sg.groupID),
	}); err != nil {
		if !apiErrorCode(err, "InvalidGroup.NotFound") {
			return err
		}
	}

	if err := config.RemoveResource(sg.SectionName(sectionSecurityGroups), sg.Name()); err != nil {
		return err
	}
	sg.MarkClobbered()
	log.Printf("[resource] Clobbered security group %s (%s)", sg.Name(), sg.groupID)
	return nil
}
