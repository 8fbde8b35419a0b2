package resource

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/weftlabs/weft/internal/config"
)

const sectionNetworks = "networks"

// DefaultNetworkCIDR is the VPC block used when the caller does not
// supply one. Subnets are carved out of it at /20.
const DefaultNetworkCIDR = "10.0.0.0/16"

const subnetPrefixLen = 20

// EC2API is the subset of the EC2 client used by networks and security
// groups.
type EC2API interface {
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	CreateVpc(ctx context.Context, in *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	DeleteVpc(ctx context.Context, in *ec2.DeleteVpcInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	CreateSubnet(ctx context.Context, in *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	DeleteSubnet(ctx context.Context, in *ec2.DeleteSubnetInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	DescribeAvailabilityZones(ctx context.Context, in *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
}

// Network is a VPC with one subnet per availability zone.
type Network struct {
	Base
	api EC2API

	vpcID     string
	cidr      string
	subnetIDs []string
}

// NetworkSpec describes a network to create.
type NetworkSpec struct {
	Name  string
	CIDR  string // defaults to DefaultNetworkCIDR
	Owner string
	Tags  map[string]string
}

// AdoptNetwork binds to an existing VPC by its ID, as recorded in the
// durable store or carried by an ExistsError from CreateNetwork.
func AdoptNetwork(ctx context.Context, api EC2API, name, vpcID string) (*Network, error) {
	base, err := NewBase(name)
	if err != nil {
		return nil, err
	}

	out, err := api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{vpcID}})
	if err != nil {
		if apiErrorCode(err, "InvalidVpcID.NotFound") {
			return nil, &NotFoundError{ID: vpcID}
		}
		return nil, err
	}
	if len(out.Vpcs) == 0 {
		return nil, &NotFoundError{ID: vpcID}
	}
	vpc := out.Vpcs[0]

	n := &Network{
		Base:  base,
		api:   api,
		vpcID: vpcID,
		cidr:  aws.ToString(vpc.CidrBlock),
	}

	subnets, err := api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return nil, err
	}
	for _, s := range subnets.Subnets {
		n.subnetIDs = append(n.subnetIDs, aws.ToString(s.SubnetId))
	}

	// Adoption stamps the ownership tags just like creation does.
	tags, err := Tags(name, "", nil)
	if err != nil {
		return nil, err
	}
	if _, err := api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: append([]string{vpcID}, n.subnetIDs...),
		Tags:      ec2Tags(tags),
	}); err != nil {
		return nil, fmt.Errorf("failed to tag VPC %s: %w", vpcID, err)
	}

	if err := config.AddResource(n.SectionName(sectionNetworks), name, vpcID); err != nil {
		return nil, err
	}
	log.Printf("[resource] Adopted network %s (%s)", name, vpcID)
	return n, nil
}

// CreateNetwork creates a VPC named name with a subnet in every
// availability zone of the active region. If a VPC already carries the
// name tag, an *ExistsError with its VPC ID is returned so the caller
// can adopt it.
func CreateNetwork(ctx context.Context, api EC2API, spec NetworkSpec) (*Network, error) {
	base, err := NewBase(spec.Name)
	if err != nil {
		return nil, err
	}

	cidr := spec.CIDR
	if cidr == "" {
		cidr = DefaultNetworkCIDR
	}
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return nil, inputErrorf("invalid network CIDR %q: %v", cidr, err)
	}

	existing, err := api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{{Name: aws.String("tag:" + TagName), Values: []string{spec.Name}}},
	})
	if err != nil {
		return nil, err
	}
	if len(existing.Vpcs) > 0 {
		return nil, &ExistsError{ID: aws.ToString(existing.Vpcs[0].VpcId)}
	}

	tags, err := Tags(spec.Name, spec.Owner, spec.Tags)
	if err != nil {
		return nil, err
	}

	created, err := api.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:       aws.String(cidr),
		InstanceTenancy: ec2types.TenancyDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC %s: %w", spec.Name, err)
	}
	vpcID := aws.ToString(created.Vpc.VpcId)

	n := &Network{Base: base, api: api, vpcID: vpcID, cidr: cidr}

	if _, err := api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{vpcID},
		Tags:      ec2Tags(tags),
	}); err != nil {
		return nil, fmt.Errorf("failed to tag VPC %s: %w", vpcID, err)
	}

	zones, err := api.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, err
	}
	blocks, err := subnetCIDRs(cidr, len(zones.AvailabilityZones))
	if err != nil {
		return nil, err
	}
	for i, zone := range zones.AvailabilityZones {
		sub, err := api.CreateSubnet(ctx, &ec2.CreateSubnetInput{
			VpcId:            aws.String(vpcID),
			CidrBlock:        aws.String(blocks[i]),
			AvailabilityZone: zone.ZoneName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create subnet in %s: %w", aws.ToString(zone.ZoneName), err)
		}
		n.subnetIDs = append(n.subnetIDs, aws.ToString(sub.Subnet.SubnetId))
	}

	if len(n.subnetIDs) > 0 {
		if _, err := api.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: n.subnetIDs,
			Tags:      ec2Tags(tags),
		}); err != nil {
			return nil, fmt.Errorf("failed to tag subnets of %s: %w", vpcID, err)
		}
	}

	if err := config.AddResource(n.SectionName(sectionNetworks), spec.Name, vpcID); err != nil {
		return nil, err
	}
	log.Printf("[resource] Created network %s (%s) with %d subnets", spec.Name, vpcID, len(n.subnetIDs))
	return n, nil
}

// VPCID returns the underlying VPC's ID.
func (n *Network) VPCID() string { return n.vpcID }

// CIDR returns the VPC's IPv4 block.
func (n *Network) CIDR() string { return n.cidr }

// SubnetIDs returns the IDs of the per-zone subnets.
func (n *Network) SubnetIDs() []string { return n.subnetIDs }

// Clobber deletes the subnets, then the VPC, then the durable record.
// Security groups inside the VPC must be clobbered first; EC2 refuses
// to delete a VPC with non-default groups attached.
func (n *Network) Clobber(ctx context.Context) error {
	if n.Clobbered() {
		return nil
	}
	if err := n.CheckSession(); err != nil {
		return err
	}

	for _, id := range n.subnetIDs {
		if _, err := n.api.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)}); err != nil {
			if !apiErrorCode(err, "InvalidSubnetID.NotFound") {
				return err
			}
		}
	}

	if _, err := n.api.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(n.vpcID)}); err != nil {
		if !apiErrorCode(err, "InvalidVpcID.NotFound") {
			return err
		}
	}

	if err := config.RemoveResource(n.SectionName(sectionNetworks), n.Name()); err != nil {
		return err
	}
	n.MarkClobbered()
	log.Printf("[resource] Clobbered network %s (%s)", n.Name(), n.vpcID)
	return nil
}

// subnetCIDRs carves n /20 blocks out of cidr, in address order.
func subnetCIDRs(cidr string, n int) ([]string, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, inputErrorf("invalid network CIDR %q: %v", cidr, err)
	}
	ones, bits := network.Mask.Size()
	if ones > subnetPrefixLen {
		return nil, inputErrorf("network CIDR %s is smaller than a /%d", cidr, subnetPrefixLen)
	}
	capacity := 1 << (subnetPrefixLen - ones)
	if n > capacity {
		return nil, inputErrorf("network CIDR %s only fits %d /%d subnets, need %d", cidr, capacity, subnetPrefixLen, n)
	}

	base := network.IP.To4()
	if base == nil {
		return nil, inputErrorf("network CIDR %s is not IPv4", cidr)
	}
	step := uint32(1) << (bits - subnetPrefixLen)
	start := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		addr := start + uint32(i)*step
		ip := net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
		out = append(out, fmt.Sprintf("%s/%d", ip.String(), subnetPrefixLen))
	}
	return out, nil
}
