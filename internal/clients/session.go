package clients

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/weftlabs/weft/internal/config"
)

// SetRegion validates region against the remote region list, persists it
// as the active region, and resets the registry so every subsequent call
// targets the new region.
func (r *Registry) SetRegion(ctx context.Context, region string) error {
	client, err := r.EC2(ctx)
	if err != nil {
		return err
	}
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return fmt.Errorf("failed to list regions: %w", err)
	}

	known := false
	for _, reg := range out.Regions {
		if reg.RegionName != nil && *reg.RegionName == region {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown region %q", region)
	}

	if err := config.SetRegion(region); err != nil {
		return err
	}
	r.Reset()
	return nil
}

// SetProfile validates profile against the AWS shared config/credentials
// files, persists it as the active profile, and resets the registry.
func (r *Registry) SetProfile(profile string) error {
	if profile != config.ProfileFromEnv {
		info, err := config.ListProfiles()
		if err != nil {
			return err
		}
		found := false
		for _, p := range info.Profiles {
			if p == profile {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("profile %q not found in %s or %s", profile, info.ConfigFile, info.CredentialsFile)
		}
	}

	if err := config.SetProfile(profile); err != nil {
		return err
	}
	r.Reset()
	return nil
}
