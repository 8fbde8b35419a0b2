// Package images pushes built container images to the registry. Image
// construction itself lives behind the Builder interface; this package
// handles the registry credential exchange, the push, and the durable
// record of pushed images.
package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
)

// TokenAPI is the subset of the ECR client used for the credential
// exchange.
type TokenAPI interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// Builder constructs an image from a build context. Implementations
// live outside this module (a Docker daemon, buildkit, a prebuilt
// tarball); the engine only consumes the result.
type Builder interface {
	Build(ctx context.Context, contextDir string, tags []string) (v1.Image, error)
}

// Credential is a short-lived registry basic-auth credential.
type Credential struct {
	Username string
	Password string
	Registry string
}

// writeImage is swapped out in tests; pushing is otherwise a live
// registry round trip.
var writeImage = remote.Write

// RegistryCredential exchanges an ECR authorization token for a
// basic-auth credential. Tokens are valid for twelve hours.
func RegistryCredential(ctx context.Context, api TokenAPI) (Credential, error) {
	out, err := api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credential{}, fmt.Errorf("failed to get registry token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Credential{}, fmt.Errorf("registry returned no authorization data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to decode registry token: %w", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credential{}, fmt.Errorf("registry token is not user:password formatted")
	}

	return Credential{
		Username: user,
		Password: pass,
		Registry: strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
	}, nil
}

// Image is a pushed image recorded in the durable store.
type Image struct {
	name      string
	repoURI   string
	tags      []string
	clobbered bool
}

// Name returns the image's logical name.
func (i *Image) Name() string { return i.name }

// RepoURI returns the repository the tags were pushed to.
func (i *Image) RepoURI() string { return i.repoURI }

// Tags returns the pushed tags.
func (i *Image) Tags() []string { return i.tags }

// Clobbered reports whether the image record has been dropped.
func (i *Image) Clobbered() bool { return i.clobbered }

func sectionName(name string) string { return "docker-image " + name }

// BuildAndPush builds the context with builder and pushes every tag to
// repoURI, authenticating with cred, then records the image.
func BuildAndPush(ctx context.Context, builder Builder, cred Credential, imageName, contextDir, repoURI string, tags []string) (*Image, error) {
	if err := resource.ValidateName(imageName); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		tags = []string{"latest"}
	}

	img, err := builder.Build(ctx, contextDir, tags)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", imageName, err)
	}

	if err := push(ctx, img, cred, repoURI, tags); err != nil {
		return nil, err
	}

	rec := &Image{name: imageName, repoURI: repoURI, tags: tags}
	if err := config.SetSection(sectionName(imageName), map[string]string{
		"repo-uri": repoURI,
		"tags":     strings.Join(tags, ","),
		"context":  contextDir,
	}); err != nil {
		return nil, err
	}
	log.Printf("[images] Pushed %s to %s (%s)", imageName, repoURI, strings.Join(tags, ", "))
	return rec, nil
}

// PushTarball pushes an image already saved as a tarball, for callers
// that build outside this process.
func PushTarball(ctx context.Context, cred Credential, imageName, tarPath, repoURI string, tags []string) (*Image, error) {
	if err := resource.ValidateName(imageName); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		tags = []string{"latest"}
	}

	img, err := tarball.ImageFromPath(tarPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load image tarball %s: %w", tarPath, err)
	}

	if err := push(ctx, img, cred, repoURI, tags); err != nil {
		return nil, err
	}

	rec := &Image{name: imageName, repoURI: repoURI, tags: tags}
	if err := config.SetSection(sectionName(imageName), map[string]string{
		"repo-uri": repoURI,
		"tags":     strings.Join(tags, ","),
	}); err != nil {
		return nil, err
	}
	log.Printf("[images] Pushed %s to %s (%s)", imageName, repoURI, strings.Join(tags, ", "))
	return rec, nil
}

func push(ctx context.Context, img v1.Image, cred Credential, repoURI string, tags []string) error {
	auth := &authn.Basic{Username: cred.Username, Password: cred.Password}
	for _, tag := range tags {
		ref, err := name.ParseReference(repoURI + ":" + tag)
		if err != nil {
			return fmt.Errorf("invalid image reference %s:%s: %w", repoURI, tag, err)
		}
		if err := writeImage(ref, img, remote.WithContext(ctx), remote.WithAuth(auth)); err != nil {
			return fmt.Errorf("failed to push %s: %w", ref.Name(), err)
		}
	}
	return nil
}

// Clobber drops the image's durable record. Registry-side images are
// removed with their repository (repos are force-deleted).
func (i *Image) Clobber(ctx context.Context) error {
	if i.clobbered {
		return nil
	}
	if err := config.RemoveSection(sectionName(i.name)); err != nil {
		return err
	}
	i.clobbered = true
	log.Printf("[images] Clobbered image record %s", i.name)
	return nil
}
