package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/weftlabs/weft/internal/config"
)

// sectionRoles is the durable-store kind for IAM roles.
const sectionRoles = "roles"

// Service flavors a role can be created for. The flavor picks the
// trust-policy principal.
const (
	ServiceBatch     = "batch"
	ServiceEC2       = "ec2"
	ServiceSpotFleet = "spotfleet"
)

var servicePrincipals = map[string]string{
	ServiceBatch:     "batch.amazonaws.com",
	ServiceEC2:       "ec2.amazonaws.com",
	ServiceSpotFleet: "spotfleet.amazonaws.com",
}

// IAMAPI is the subset of the IAM client used by roles and policies.
type IAMAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	TagRole(ctx context.Context, in *iam.TagRoleInput, optFns ...func(*iam.Options)) (*iam.TagRoleOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListPolicies(ctx context.Context, in *iam.ListPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListPoliciesOutput, error)
	CreateInstanceProfile(ctx context.Context, in *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	AddRoleToInstanceProfile(ctx context.Context, in *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
	RemoveRoleFromInstanceProfile(ctx context.Context, in *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error)
	DeleteInstanceProfile(ctx context.Context, in *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error)
	ListInstanceProfilesForRole(ctx context.Context, in *iam.ListInstanceProfilesForRoleInput, optFns ...func(*iam.Options)) (*iam.ListInstanceProfilesForRoleOutput, error)
	GetUser(ctx context.Context, in *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
}

// Role is an IAM role bound to one of the service flavors above,
// optionally carrying an instance profile of the same name.
type Role struct {
	Base
	api IAMAPI

	arn                string
	description        string
	service            string
	policyARNs         []string
	instanceProfileARN string
}

// RoleSpec describes a role to create.
type RoleSpec struct {
	Name            string
	Description     string
	Service         string
	Policies        []string // managed policy names, resolved to ARNs
	InstanceProfile bool
	Tags            map[string]string
}

// AdoptRole binds to an existing role by name. Returns a *NotFoundError
// if the remote role is gone; the caller decides whether to recreate.
func AdoptRole(ctx context.Context, api IAMAPI, name string) (*Role, error) {
	base, err := NewBase(name)
	if err != nil {
		return nil, err
	}

	out, err := api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		if isNoSuchEntity(err) {
			return nil, &NotFoundError{ID: name}
		}
		return nil, err
	}

	r := &Role{
		Base:        base,
		api:         api,
		arn:         aws.ToString(out.Role.Arn),
		description: aws.ToString(out.Role.Description),
	}

	attached, err := api.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, err
	}
	for _, p := range attached.AttachedPolicies {
		r.policyARNs = append(r.policyARNs, aws.ToString(p.PolicyArn))
	}

	profiles, err := api.ListInstanceProfilesForRole(ctx, &iam.ListInstanceProfilesForRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, err
	}
	if len(profiles.InstanceProfiles) > 0 {
		r.instanceProfileARN = aws.ToString(profiles.InstanceProfiles[0].Arn)
	}

	// Adoption stamps the ownership tags just like creation does.
	tags, err := Tags(name, "", nil)
	if err != nil {
		return nil, err
	}
	if _, err := api.TagRole(ctx, &iam.TagRoleInput{
		RoleName: aws.String(name),
		Tags:     iamTags(tags),
	}); err != nil {
		return nil, fmt.Errorf("failed to tag role %s: %w", name, err)
	}

	if err := config.AddResource(r.SectionName(sectionRoles), name, r.arn); err != nil {
		return nil, err
	}
	log.Printf("[resource] Adopted role %s", name)
	return r, nil
}

// CreateRole creates a new role from spec. Returns an *ExistsError
// carrying the conflicting role name if one already exists.
func CreateRole(ctx context.Context, api IAMAPI, spec RoleSpec) (*Role, error) {
	base, err := NewBase(spec.Name)
	if err != nil {
		return nil, err
	}

	principal, ok := servicePrincipals[spec.Service]
	if !ok {
		return nil, inputErrorf("service must be one of batch, ec2, spotfleet; got %q", spec.Service)
	}

	owner, err := CurrentUser(ctx, api)
	if err != nil {
		return nil, err
	}
	tags, err := Tags(spec.Name, owner, spec.Tags)
	if err != nil {
		return nil, err
	}

	// Adoption is attempted before creation everywhere else; here the
	// caller explicitly asked for a new role, so an existing one is a
	// conflict it must resolve.
	if _, err := api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(spec.Name)}); err == nil {
		return nil, &ExistsError{ID: spec.Name}
	} else if !isNoSuchEntity(err) {
		return nil, err
	}

	doc, err := trustPolicyDocument(principal)
	if err != nil {
		return nil, err
	}
	out, err := api.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(spec.Name),
		AssumeRolePolicyDocument: aws.String(doc),
		Description:              aws.String(spec.Description),
		Tags:                     iamTags(tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", spec.Name, err)
	}

	r := &Role{
		Base:        base,
		api:         api,
		arn:         aws.ToString(out.Role.Arn),
		description: spec.Description,
		service:     spec.Service,
	}

	for _, policy := range spec.Policies {
		arn, err := resolvePolicyARN(ctx, api, policy)
		if err != nil {
			return nil, err
		}
		if _, err := api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(spec.Name),
			PolicyArn: aws.String(arn),
		}); err != nil {
			return nil, fmt.Errorf("failed to attach policy %s to role %s: %w", policy, spec.Name, err)
		}
		r.policyARNs = append(r.policyARNs, arn)
	}

	if spec.InstanceProfile {
		profile, err := api.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
			InstanceProfileName: aws.String(spec.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create instance profile %s: %w", spec.Name, err)
		}
		if _, err := api.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(spec.Name),
			RoleName:            aws.String(spec.Name),
		}); err != nil {
			return nil, fmt.Errorf("failed to add role %s to its instance profile: %w", spec.Name, err)
		}
		r.instanceProfileARN = aws.ToString(profile.InstanceProfile.Arn)
	}

	if err := config.AddResource(r.SectionName(sectionRoles), spec.Name, r.arn); err != nil {
		return nil, err
	}
	log.Printf("[resource] Created role %s", spec.Name)
	return r, nil
}

// ARN returns the role's ARN.
func (r *Role) ARN() string { return r.arn }

// Description returns the role description.
func (r *Role) Description() string { return r.description }

// InstanceProfileARN returns the attached instance profile ARN, or ""
// if the role has none.
func (r *Role) InstanceProfileARN() string { return r.instanceProfileARN }

// Clobber detaches policies, removes the instance profile if any,
// deletes the role, and drops its durable record.
func (r *Role) Clobber(ctx context.Context) error {
	if r.Clobbered() {
		return nil
	}
	if err := r.CheckSession(); err != nil {
		return err
	}

	name := r.Name()

	attached, err := r.api.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(name)})
	if err != nil && !isNoSuchEntity(err) {
		return err
	}
	if attached != nil {
		for _, p := range attached.AttachedPolicies {
			if _, err := r.api.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  aws.String(name),
				PolicyArn: p.PolicyArn,
			}); err != nil && !isNoSuchEntity(err) {
				return err
			}
		}
	}

	if r.instanceProfileARN != "" {
		if _, err := r.api.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: aws.String(name),
			RoleName:            aws.String(name),
		}); err != nil && !isNoSuchEntity(err) {
			return err
		}
		if _, err := r.api.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
			InstanceProfileName: aws.String(name),
		}); err != nil && !isNoSuchEntity(err) {
			return err
		}
	}

	if _, err := r.api.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)}); err != nil && !isNoSuchEntity(err) {
		return err
	}

	if err := config.RemoveResource(r.SectionName(sectionRoles), name); err != nil {
		return err
	}
	r.MarkClobbered()
	log.Printf("[resource] Clobbered role %s", name)
	return nil
}

// CurrentUser returns the calling IAM user name, falling back to the
// last segment of the caller ARN for assumed roles.
func CurrentUser(ctx context.Context, api IAMAPI) (string, error) {
	out, err := api.GetUser(ctx, &iam.GetUserInput{})
	if err != nil {
		return "", fmt.Errorf("failed to look up current user: %w", err)
	}
	if name := aws.ToString(out.User.UserName); name != "" {
		return name, nil
	}
	arn := aws.ToString(out.User.Arn)
	parts := strings.Split(arn, ":")
	return parts[len(parts)-1], nil
}

// resolvePolicyARN resolves a managed policy name to its ARN, following
// list pagination markers.
func resolvePolicyARN(ctx context.Context, api IAMAPI, name string) (string, error) {
	var marker *string
	for {
		out, err := api.ListPolicies(ctx, &iam.ListPoliciesInput{
			Scope:  iamtypes.PolicyScopeTypeAll,
			Marker: marker,
		})
		if err != nil {
			return "", fmt.Errorf("failed to list policies: %w", err)
		}
		for _, p := range out.Policies {
			if aws.ToString(p.PolicyName) == name {
				return aws.ToString(p.Arn), nil
			}
		}
		if !out.IsTruncated || out.Marker == nil {
			return "", &NotFoundError{ID: name}
		}
		marker = out.Marker
	}
}

func trustPolicyDocument(principal string) (string, error) {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": map[string]string{"Service": principal},
			"Action":    "sts:AssumeRole",
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trust policy: %w", err)
	}
	return string(b), nil
}

func isNoSuchEntity(err error) bool {
	var nse *iamtypes.NoSuchEntityException
	if errors.As(err, &nse) {
		return true
	}
	return apiErrorCode(err, "NoSuchEntity")
}
