package resource

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/config"
)

// initStore points the durable store at a temp file and seeds the
// configured gate plus a fixed region/profile.
func initStore(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "config"))
	require.NoError(t, config.Set(config.SectionAWS, config.KeyRegion, "us-west-2"))
	require.NoError(t, config.Set(config.SectionAWS, config.KeyProfile, "default"))
	require.NoError(t, config.SetConfigured(true))
}

func TestNewBaseValidatesName(t *testing.T) {
	initStore(t)

	for _, name := range []string{"has_underscore", "1starts-with-digit", "-leading-dash", ""} {
		_, err := NewBase(name)
		var inputErr *InputError
		require.ErrorAs(t, err, &inputErr, "name %q", name)
	}

	base, err := NewBase("valid-Name-42")
	require.NoError(t, err)
	assert.Equal(t, "valid-Name-42", base.Name())
	assert.Equal(t, "us-west-2", base.Region())
	assert.Equal(t, "default", base.Profile())
}

func TestNewBaseRequiresConfiguredStore(t *testing.T) {
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "config"))

	_, err := NewBase("anything")
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestCheckSessionDetectsMismatch(t *testing.T) {
	initStore(t)

	base, err := NewBase("thing")
	require.NoError(t, err)
	require.NoError(t, base.CheckSession())

	require.NoError(t, config.Set(config.SectionAWS, config.KeyRegion, "eu-central-1"))
	var regionErr *RegionMismatchError
	require.ErrorAs(t, base.CheckSession(), &regionErr)
	assert.Equal(t, "us-west-2", regionErr.Resource)
	assert.Equal(t, "eu-central-1", regionErr.Active)

	require.NoError(t, config.Set(config.SectionAWS, config.KeyRegion, "us-west-2"))
	require.NoError(t, config.Set(config.SectionAWS, config.KeyProfile, "other"))
	var profileErr *ProfileMismatchError
	require.ErrorAs(t, base.CheckSession(), &profileErr)
}

func TestGuardRejectsClobbered(t *testing.T) {
	initStore(t)

	base, err := NewBase("thing")
	require.NoError(t, err)
	base.MarkClobbered()

	var clobberedErr *ClobberedError
	require.ErrorAs(t, base.Guard("id-123"), &clobberedErr)
	assert.Equal(t, "id-123", clobberedErr.ID)
}

func TestTagsRejectsReservedKeys(t *testing.T) {
	for _, key := range []string{TagName, TagOwner, TagEnvironment} {
		_, err := Tags("n", "o", map[string]string{key: "x"})
		var inputErr *InputError
		require.ErrorAs(t, err, &inputErr, "key %q", key)
	}

	tags, err := Tags("my-thing", "alice", map[string]string{"team": "science"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		TagName:        "my-thing",
		TagOwner:       "alice",
		TagEnvironment: EnvironmentValue,
		"team":         "science",
	}, tags)
}

func TestAdoptOrCreatePrefersAdoption(t *testing.T) {
	want := "adopted"
	obj, outcome, err := AdoptOrCreate(context.Background(), "x", Funcs[string]{
		Describe: func(ctx context.Context) (*string, error) { return &want, nil },
		Create: func(ctx context.Context) (*string, error) {
			t.Fatal("create must not run when describe succeeds")
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Adopted, outcome)
	assert.Equal(t, "adopted", *obj)
}

func TestAdoptOrCreateCreatesOnNotFound(t *testing.T) {
	want := "created"
	obj, outcome, err := AdoptOrCreate(context.Background(), "x", Funcs[string]{
		Describe: func(ctx context.Context) (*string, error) { return nil, &NotFoundError{ID: "x"} },
		Create:   func(ctx context.Context) (*string, error) { return &want, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.Equal(t, "created", *obj)
}

func TestAdoptOrCreatePropagatesDescribeErrors(t *testing.T) {
	boom := errors.New("throttled")
	_, _, err := AdoptOrCreate(context.Background(), "x", Funcs[string]{
		Describe: func(ctx context.Context) (*string, error) { return nil, boom },
		Create: func(ctx context.Context) (*string, error) {
			t.Fatal("create must not run on a non-NotFound describe error")
			return nil, nil
		},
	})
	require.ErrorIs(t, err, boom)
}
