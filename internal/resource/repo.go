package resource

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/weftlabs/weft/internal/config"
)

const sectionRepos = "repos"

// ECRAPI is the subset of the ECR client used by registry repos.
type ECRAPI interface {
	DescribeRepositories(ctx context.Context, in *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	DeleteRepository(ctx context.Context, in *ecr.DeleteRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.DeleteRepositoryOutput, error)
	TagResource(ctx context.Context, in *ecr.TagResourceInput, optFns ...func(*ecr.Options)) (*ecr.TagResourceOutput, error)
}

// Repo is a registry repository that pushed job images land in.
type Repo struct {
	Base
	api ECRAPI

	registryID string
	uri        string
	arn        string
	adopted    bool
}

// EnsureRepo adopts the repository named name, creating it if the
// registry does not have it yet.
func EnsureRepo(ctx context.Context, api ECRAPI, name, owner string) (*Repo, error) {
	base, err := NewBase(name)
	if err != nil {
		return nil, err
	}

	r, outcome, err := AdoptOrCreate(ctx, name, Funcs[Repo]{
		Describe: func(ctx context.Context) (*Repo, error) {
			out, err := api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
				RepositoryNames: []string{name},
			})
			if err != nil {
				var nf *ecrtypes.RepositoryNotFoundException
				if errors.As(err, &nf) {
					return nil, &NotFoundError{ID: name}
				}
				return nil, err
			}
			repo := out.Repositories[0]
			return &Repo{
				Base:       base,
				api:        api,
				registryID: aws.ToString(repo.RegistryId),
				uri:        aws.ToString(repo.RepositoryUri),
				arn:        aws.ToString(repo.RepositoryArn),
				adopted:    true,
			}, nil
		},
		Create: func(ctx context.Context) (*Repo, error) {
			tags, err := Tags(name, owner, nil)
			if err != nil {
				return nil, err
			}
			out, err := api.CreateRepository(ctx, &ecr.CreateRepositoryInput{
				RepositoryName: aws.String(name),
				Tags:           ecrTags(tags),
			})
			if err != nil {
				// Lost a race against a concurrent create; adopt instead.
				var exists *ecrtypes.RepositoryAlreadyExistsException
				if errors.As(err, &exists) {
					return nil, &ExistsError{ID: name}
				}
				return nil, err
			}
			repo := out.Repository
			return &Repo{
				Base:       base,
				api:        api,
				registryID: aws.ToString(repo.RegistryId),
				uri:        aws.ToString(repo.RepositoryUri),
				arn:        aws.ToString(repo.RepositoryArn),
			}, nil
		},
	})
	if err != nil {
		if IsExists(err) {
			return EnsureRepo(ctx, api, name, owner)
		}
		return nil, err
	}

	// Adoption stamps the ownership tags; creation already passed them.
	if outcome == Adopted {
		tags, err := Tags(name, owner, nil)
		if err != nil {
			return nil, err
		}
		if _, err := api.TagResource(ctx, &ecr.TagResourceInput{
			ResourceArn: aws.String(r.arn),
			Tags:        ecrTags(tags),
		}); err != nil {
			return nil, fmt.Errorf("failed to tag repo %s: %w", name, err)
		}
	}

	if err := config.AddResource(r.SectionName(sectionRepos), name, r.uri); err != nil {
		return nil, err
	}
	if outcome == Created {
		log.Printf("[resource] Created repo %s (%s)", name, r.uri)
	} else {
		log.Printf("[resource] Adopted repo %s (%s)", name, r.uri)
	}
	return r, nil
}

// RegistryID returns the owning registry's account ID.
func (r *Repo) RegistryID() string { return r.registryID }

// URI returns the repository URI images are tagged with.
func (r *Repo) URI() string { return r.uri }

// ARN returns the repository's ARN.
func (r *Repo) ARN() string { return r.arn }

// Clobber force-deletes the repository and its images and drops the
// durable record. The configured default repo is shared across
// projects, so only its record is dropped, never the remote repo.
func (r *Repo) Clobber(ctx context.Context) error {
	if r.Clobbered() {
		return nil
	}
	if err := r.CheckSession(); err != nil {
		return err
	}

	defaultRepo, _, err := config.Get(config.SectionAWS, config.KeyRepo)
	if err != nil {
		return err
	}
	if r.Name() != defaultRepo {
		if _, err := r.api.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
			RepositoryName: aws.String(r.Name()),
			Force:          true,
		}); err != nil {
			var nf *ecrtypes.RepositoryNotFoundException
			if !errors.As(err, &nf) {
				return fmt.Errorf("failed to delete repo %s: %w", r.Name(), err)
			}
		}
	}

	if err := config.RemoveResource(r.SectionName(sectionRepos), r.Name()); err != nil {
		return err
	}
	r.MarkClobbered()
	log.Printf("[resource] Clobbered repo %s", r.Name())
	return nil
}
