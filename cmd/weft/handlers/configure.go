// Package handlers implements the execution logic behind the CLI
// commands. Collaborators that touch AWS are held in package-level
// function variables so tests can swap them out.
package handlers

import (
	"context"
	"log"

	"github.com/weftlabs/weft/internal/clients"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
	"github.com/weftlabs/weft/internal/storage"
)

// ConfigureOptions are the non-interactive configure inputs. Empty
// fields fall back to the environment and generated defaults.
type ConfigureOptions struct {
	Profile string
	Region  string
	Repo    string
	Bucket  string
	SSE     string
}

// configureClients bundles the service clients configure needs.
type configureClients struct {
	IAM    resource.IAMAPI
	Policy storage.IAMAPI
	S3     storage.S3API
	ECR    resource.ECRAPI
}

// Factory function variables - can be replaced in tests.
var (
	newConfigureClients = func(ctx context.Context) (configureClients, error) {
		reg := clients.NewRegistry()
		iamc, err := reg.IAM(ctx)
		if err != nil {
			return configureClients{}, err
		}
		s3c, err := reg.S3(ctx)
		if err != nil {
			return configureClients{}, err
		}
		ecrc, err := reg.ECR(ctx)
		if err != nil {
			return configureClients{}, err
		}
		return configureClients{IAM: iamc, Policy: iamc, S3: s3c, ECR: ecrc}, nil
	}

	applyParams       = storage.SetParams
	resolveParams     = storage.ResolveParams
	ensureDefaultRepo = storage.EnsureDefaultRepo
	lookupUser        = resource.CurrentUser
)

// Configure persists the global settings, makes the staging bucket,
// access policy, and default repo real, and flips the configured gate.
func Configure(ctx context.Context, opts ConfigureOptions) error {
	if opts.Profile != "" {
		if err := config.SetProfile(opts.Profile); err != nil {
			return err
		}
	}
	if opts.Region != "" {
		if err := config.SetRegion(opts.Region); err != nil {
			return err
		}
	}
	if opts.Repo != "" {
		if err := config.Set(config.SectionAWS, config.KeyRepo, opts.Repo); err != nil {
			return err
		}
	}

	c, err := newConfigureClients(ctx)
	if err != nil {
		return err
	}

	owner, err := lookupUser(ctx, c.IAM)
	if err != nil {
		// Tagging degrades gracefully for callers without iam:GetUser.
		log.Printf("[configure] Could not determine the calling user: %v", err)
		owner = ""
	}

	params, err := resolveParams()
	if err != nil {
		return err
	}
	if opts.Bucket != "" {
		params.Bucket = opts.Bucket
	}
	if opts.SSE != "" {
		params.SSE = opts.SSE
	}
	if err := applyParams(ctx, c.S3, c.Policy, params, owner); err != nil {
		return err
	}

	// The gate opens before the repo step: repo adoption runs through
	// the named-resource path, which refuses to work ungated.
	if err := config.SetConfigured(true); err != nil {
		return err
	}

	if _, err := ensureDefaultRepo(ctx, c.ECR, owner); err != nil {
		return err
	}
	log.Printf("[configure] Configuration complete (bucket %s)", params.Bucket)
	return nil
}
