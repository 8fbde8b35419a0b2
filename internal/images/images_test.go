package images

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
)

func initStore(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "config"))
	require.NoError(t, config.Set(config.SectionAWS, config.KeyRegion, "us-west-2"))
	require.NoError(t, config.Set(config.SectionAWS, config.KeyProfile, "default"))
	require.NoError(t, config.SetConfigured(true))
}

type tokenMock struct {
	fn func(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

func (m *tokenMock) GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return m.fn(ctx, in, optFns...)
}

func TestRegistryCredentialDecodesToken(t *testing.T) {
	api := &tokenMock{fn: func(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
		return &ecr.GetAuthorizationTokenOutput{AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("AWS:sekrit"))),
			ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.us-west-2.amazonaws.com"),
		}}}, nil
	}}

	cred, err := RegistryCredential(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, "AWS", cred.Username)
	assert.Equal(t, "sekrit", cred.Password)
	assert.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com", cred.Registry)
}

func TestRegistryCredentialRejectsMalformedToken(t *testing.T) {
	api := &tokenMock{fn: func(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
		return &ecr.GetAuthorizationTokenOutput{AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("no-separator"))),
		}}}, nil
	}}

	_, err := RegistryCredential(context.Background(), api)
	require.Error(t, err)
}

type stubBuilder struct {
	built []string
}

func (b *stubBuilder) Build(ctx context.Context, contextDir string, tags []string) (v1.Image, error) {
	b.built = append(b.built, contextDir)
	return empty.Image, nil
}

func TestBuildAndPushRecordsImage(t *testing.T) {
	initStore(t)

	var pushedRefs []string
	orig := writeImage
	writeImage = func(ref name.Reference, img v1.Image, options ...remote.Option) error {
		pushedRefs = append(pushedRefs, ref.Name())
		return nil
	}
	t.Cleanup(func() { writeImage = orig })

	builder := &stubBuilder{}
	img, err := BuildAndPush(context.Background(), builder, Credential{Username: "AWS", Password: "x"},
		"my-image", "/src/app", "123456789012.dkr.ecr.us-west-2.amazonaws.com/weft", []string{"v1", "latest"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/src/app"}, builder.built)
	assert.Equal(t, []string{
		"123456789012.dkr.ecr.us-west-2.amazonaws.com/weft:v1",
		"123456789012.dkr.ecr.us-west-2.amazonaws.com/weft:latest",
	}, pushedRefs)

	record, err := config.Section("docker-image my-image")
	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com/weft", record["repo-uri"])
	assert.Equal(t, "v1,latest", record["tags"])

	require.NoError(t, img.Clobber(context.Background()))
	record, err = config.Section("docker-image my-image")
	require.NoError(t, err)
	assert.Empty(t, record)
}

func TestBuildAndPushValidatesName(t *testing.T) {
	initStore(t)

	_, err := BuildAndPush(context.Background(), &stubBuilder{}, Credential{}, "bad_name", "/src", "repo", nil)
	var inputErr *resource.InputError
	require.ErrorAs(t, err, &inputErr)
}
