// Package pars manages the dependency group every compute environment
// needs before jobs can run: three IAM roles (batch service, ECS
// instance, spot fleet), a VPC, and a security group inside that VPC.
// The group is reconciled as a unit, recorded durably under one
// section, and torn down in reverse dependency order.
package pars

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
)

// Config section keys for one recorded group.
const (
	keyBatchServiceRole = "batch-service-role"
	keyECSInstanceRole  = "ecs-instance-role"
	keySpotFleetRole    = "spot-fleet-role"
	keyVPC              = "vpc"
	keySecurityGroup    = "security-group"
)

// Managed policies attached to the default roles.
const (
	policyBatchService = "AWSBatchServiceRole"
	policyECSInstance  = "AmazonEC2ContainerServiceforEC2Role"
	policySpotFleet    = "AmazonEC2SpotFleetTaggingRole"
)

// Deps carries the AWS clients the group operates through.
type Deps struct {
	IAM resource.IAMAPI
	EC2 resource.EC2API
}

// Spec describes a group to resolve. All constituent fields are
// optional overrides; zero values mean "use the default name / create
// fresh". Overrides are rejected when the group is already recorded.
type Spec struct {
	Name string

	BatchServiceRoleName string
	ECSInstanceRoleName  string
	SpotFleetRoleName    string
	VPCID                string
	SecurityGroupID      string

	Owner string
	Tags  map[string]string
}

// Group is a resolved dependency group.
type Group struct {
	name      string
	deps      Deps
	owner     string
	tags      map[string]string
	clobbered bool

	batchServiceRole *resource.Role
	ecsInstanceRole  *resource.Role
	spotFleetRole    *resource.Role
	network          *resource.Network
	securityGroup    *resource.SecurityGroup
}

func sectionName(name string) string { return "pars " + name }

// New resolves the group named spec.Name. A recorded group is
// re-adopted from its durable record (recreating constituents that
// vanished remotely); an unrecorded one is built fresh, tearing down
// partially-created constituents if any step fails.
func New(ctx context.Context, deps Deps, spec Spec) (*Group, error) {
	if err := resource.ValidateName(spec.Name); err != nil {
		return nil, err
	}

	record, err := config.Section(sectionName(spec.Name))
	if err != nil {
		return nil, err
	}
	g := &Group{name: spec.Name, deps: deps, owner: spec.Owner, tags: spec.Tags}

	if len(record) > 0 {
		if spec.BatchServiceRoleName != "" || spec.ECSInstanceRoleName != "" ||
			spec.SpotFleetRoleName != "" || spec.VPCID != "" || spec.SecurityGroupID != "" {
			return nil, fmt.Errorf(
				"pars %s is already recorded; constituent overrides are not allowed when re-adopting", spec.Name)
		}
		if err := g.adoptRecorded(ctx, record); err != nil {
			return nil, err
		}
		log.Printf("[pars] Adopted group %s", spec.Name)
	} else {
		if err := g.createFresh(ctx, spec); err != nil {
			return nil, err
		}
		log.Printf("[pars] Created group %s", spec.Name)
	}

	if err := g.writeRecord(); err != nil {
		return nil, err
	}
	return g, nil
}

// adoptRecorded rebinds every constituent named in record, recreating
// any that no longer exists remotely.
func (g *Group) adoptRecorded(ctx context.Context, record map[string]string) error {
	var err error

	g.batchServiceRole, err = g.ensureRole(ctx, record[keyBatchServiceRole], roleFlavorBatchService)
	if err != nil {
		return err
	}
	g.ecsInstanceRole, err = g.ensureRole(ctx, record[keyECSInstanceRole], roleFlavorECSInstance)
	if err != nil {
		return err
	}
	g.spotFleetRole, err = g.ensureRole(ctx, record[keySpotFleetRole], roleFlavorSpotFleet)
	if err != nil {
		return err
	}

	g.network, err = resource.AdoptNetwork(ctx, g.deps.EC2, g.networkName(), record[keyVPC])
	if resource.IsNotFound(err) {
		g.network, err = g.createNetwork(ctx, "")
	}
	if err != nil {
		return err
	}

	g.securityGroup, err = resource.AdoptSecurityGroup(ctx, g.deps.EC2, g.securityGroupName(), record[keySecurityGroup])
	if resource.IsNotFound(err) {
		g.securityGroup, err = g.createSecurityGroup(ctx, g.network, g.securityGroupName(), "")
	}
	return err
}

// createFresh builds all five constituents. On failure the ones
// already created are clobbered in reverse order before returning.
func (g *Group) createFresh(ctx context.Context, spec Spec) (err error) {
	var created []resource.Resource
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			if cerr := created[i].Clobber(ctx); cerr != nil {
				log.Printf("[pars] Failed to clean up %s after aborted create: %v", created[i].Name(), cerr)
			}
		}
	}()

	g.batchServiceRole, err = g.ensureRole(ctx, spec.BatchServiceRoleName, roleFlavorBatchService)
	if err != nil {
		return err
	}
	created = append(created, g.batchServiceRole)

	g.ecsInstanceRole, err = g.ensureRole(ctx, spec.ECSInstanceRoleName, roleFlavorECSInstance)
	if err != nil {
		return err
	}
	created = append(created, g.ecsInstanceRole)

	g.spotFleetRole, err = g.ensureRole(ctx, spec.SpotFleetRoleName, roleFlavorSpotFleet)
	if err != nil {
		return err
	}
	created = append(created, g.spotFleetRole)

	if spec.VPCID != "" {
		g.network, err = resource.AdoptNetwork(ctx, g.deps.EC2, g.networkName(), spec.VPCID)
	} else {
		g.network, err = g.createNetwork(ctx, "")
	}
	if err != nil {
		return err
	}
	created = append(created, g.network)

	if spec.SecurityGroupID != "" {
		g.securityGroup, err = resource.AdoptSecurityGroup(ctx, g.deps.EC2, g.securityGroupName(), spec.SecurityGroupID)
	} else {
		g.securityGroup, err = g.createSecurityGroup(ctx, g.network, g.securityGroupName(), "")
	}
	if err != nil {
		return err
	}
	created = append(created, g.securityGroup)
	return nil
}

type roleFlavor struct {
	suffix          string
	description     string
	service         string
	policies        []string
	instanceProfile bool
}

var (
	roleFlavorBatchService = roleFlavor{
		suffix:      "-weft-batch-service-role",
		description: "batch service role for weft",
		service:     resource.ServiceBatch,
		policies:    []string{policyBatchService},
	}
	roleFlavorECSInstance = roleFlavor{
		suffix:          "-weft-ecs-instance-role",
		description:     "ECS instance role for weft",
		service:         resource.ServiceEC2,
		policies:        []string{policyECSInstance},
		instanceProfile: true,
	}
	roleFlavorSpotFleet = roleFlavor{
		suffix:      "-weft-spot-fleet-role",
		description: "spot fleet role for weft",
		service:     resource.ServiceSpotFleet,
		policies:    []string{policySpotFleet},
	}
)

// ensureRole adopts name (defaulting to the flavor's derived name),
// creating the role if it does not exist. A create that loses a race
// to a concurrent create falls back to adoption.
func (g *Group) ensureRole(ctx context.Context, name string, flavor roleFlavor) (*resource.Role, error) {
	if name == "" {
		name = g.name + flavor.suffix
	}

	role, err := resource.AdoptRole(ctx, g.deps.IAM, name)
	if err == nil {
		return role, nil
	}
	if !resource.IsNotFound(err) {
		return nil, err
	}

	role, err = resource.CreateRole(ctx, g.deps.IAM, resource.RoleSpec{
		Name:            name,
		Description:     flavor.description,
		Service:         flavor.service,
		Policies:        flavor.policies,
		InstanceProfile: flavor.instanceProfile,
		Tags:            g.tags,
	})
	if resource.IsExists(err) {
		return resource.AdoptRole(ctx, g.deps.IAM, name)
	}
	return role, err
}

func (g *Group) createNetwork(ctx context.Context, cidr string) (*resource.Network, error) {
	n, err := resource.CreateNetwork(ctx, g.deps.EC2, resource.NetworkSpec{
		Name:  g.networkName(),
		CIDR:  cidr,
		Owner: g.owner,
		Tags:  g.tags,
	})
	var exists *resource.ExistsError
	if errors.As(err, &exists) {
		return resource.AdoptNetwork(ctx, g.deps.EC2, g.networkName(), exists.ID)
	}
	return n, err
}

func (g *Group) createSecurityGroup(ctx context.Context, network *resource.Network, name, description string) (*resource.SecurityGroup, error) {
	sg, err := resource.CreateSecurityGroup(ctx, g.deps.EC2, resource.SecurityGroupSpec{
		Name:        name,
		Network:     network,
		Description: description,
		Owner:       g.owner,
		Tags:        g.tags,
	})
	var exists *resource.ExistsError
	if errors.As(err, &exists) {
		return resource.AdoptSecurityGroup(ctx, g.deps.EC2, name, exists.ID)
	}
	return sg, err
}

func (g *Group) networkName() string       { return g.name + "-weft-vpc" }
func (g *Group) securityGroupName() string { return g.name + "-weft-security-group" }

func (g *Group) writeRecord() error {
	return config.SetSection(sectionName(g.name), map[string]string{
		keyBatchServiceRole: g.batchServiceRole.Name(),
		keyECSInstanceRole:  g.ecsInstanceRole.Name(),
		keySpotFleetRole:    g.spotFleetRole.Name(),
		keyVPC:              g.network.VPCID(),
		keySecurityGroup:    g.securityGroup.GroupID(),
	})
}

// Name returns the group's name.
func (g *Group) Name() string { return g.name }

// BatchServiceRole returns the batch service role.
func (g *Group) BatchServiceRole() *resource.Role { return g.batchServiceRole }

// ECSInstanceRole returns the ECS instance role. Its instance profile
// is what compute environments launch container instances with.
func (g *Group) ECSInstanceRole() *resource.Role { return g.ecsInstanceRole }

// SpotFleetRole returns the spot fleet role.
func (g *Group) SpotFleetRole() *resource.Role { return g.spotFleetRole }

// Network returns the group's VPC.
func (g *Group) Network() *resource.Network { return g.network }

// SecurityGroup returns the group's security group.
func (g *Group) SecurityGroup() *resource.SecurityGroup { return g.securityGroup }

// Clobbered reports whether the group has been torn down.
func (g *Group) Clobbered() bool { return g.clobbered }

// ReplaceNetwork swaps the group's VPC for network. A fresh security
// group carrying the old group's name and description is created
// inside the new VPC before the old pair is torn down, so the group
// never exists without a usable security group.
func (g *Group) ReplaceNetwork(ctx context.Context, network *resource.Network) error {
	if g.clobbered {
		return &resource.ClobberedError{ID: g.name}
	}

	newSG, err := g.createSecurityGroup(ctx, network, g.securityGroup.Name(), g.securityGroup.Description())
	if err != nil {
		return err
	}
	if err := g.securityGroup.Clobber(ctx); err != nil {
		return err
	}
	if err := g.network.Clobber(ctx); err != nil {
		return err
	}

	g.network = network
	g.securityGroup = newSG
	return g.writeRecord()
}

// ReplaceBatchServiceRole swaps the batch service role, tearing the
// old one down.
func (g *Group) ReplaceBatchServiceRole(ctx context.Context, role *resource.Role) error {
	return g.replaceRole(ctx, &g.batchServiceRole, role)
}

// ReplaceECSInstanceRole swaps the ECS instance role, tearing the old
// one down.
func (g *Group) ReplaceECSInstanceRole(ctx context.Context, role *resource.Role) error {
	return g.replaceRole(ctx, &g.ecsInstanceRole, role)
}

// ReplaceSpotFleetRole swaps the spot fleet role, tearing the old one
// down.
func (g *Group) ReplaceSpotFleetRole(ctx context.Context, role *resource.Role) error {
	return g.replaceRole(ctx, &g.spotFleetRole, role)
}

func (g *Group) replaceRole(ctx context.Context, slot **resource.Role, role *resource.Role) error {
	if g.clobbered {
		return &resource.ClobberedError{ID: g.name}
	}

	old := *slot
	log.Printf("[pars] Warning: replacing role %s with %s in group %s", old.Name(), role.Name(), g.name)
	if err := old.Clobber(ctx); err != nil {
		return err
	}
	*slot = role
	return g.writeRecord()
}

// ReplaceSecurityGroup swaps the group's security group. The
// replacement must live in the group's VPC.
func (g *Group) ReplaceSecurityGroup(ctx context.Context, sg *resource.SecurityGroup) error {
	if g.clobbered {
		return &resource.ClobberedError{ID: g.name}
	}
	if sg.VPCID() != g.network.VPCID() {
		return fmt.Errorf("security group %s belongs to VPC %s, not the group's VPC %s",
			sg.GroupID(), sg.VPCID(), g.network.VPCID())
	}

	if err := g.securityGroup.Clobber(ctx); err != nil {
		return err
	}
	g.securityGroup = sg
	return g.writeRecord()
}

// Clobber tears the group down in reverse dependency order: security
// group first (it blocks VPC deletion), then the VPC, then the roles.
// The durable record is dropped last.
func (g *Group) Clobber(ctx context.Context) error {
	if g.clobbered {
		return nil
	}

	order := []resource.Resource{
		g.securityGroup,
		g.network,
		g.spotFleetRole,
		g.ecsInstanceRole,
		g.batchServiceRole,
	}
	for _, r := range order {
		if err := r.Clobber(ctx); err != nil {
			return fmt.Errorf("failed to clobber %s: %w", r.Name(), err)
		}
	}

	if err := config.RemoveSection(sectionName(g.name)); err != nil {
		return err
	}
	g.clobbered = true
	log.Printf("[pars] Clobbered group %s", g.name)
	return nil
}
