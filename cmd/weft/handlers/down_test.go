package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/pars"
)

type fakeGroup struct {
	name      string
	clobbered bool
}

func (f *fakeGroup) Name() string { return f.name }

func (f *fakeGroup) Clobber(ctx context.Context) error {
	f.clobbered = true
	return nil
}

func stubDownSeams(t *testing.T, group Teardowner, newErr error) {
	t.Helper()

	origDeps := newDownDeps
	origGroup := newGroup
	t.Cleanup(func() {
		newDownDeps = origDeps
		newGroup = origGroup
	})

	newDownDeps = func(ctx context.Context) (pars.Deps, error) {
		return pars.Deps{}, nil
	}
	newGroup = func(ctx context.Context, deps pars.Deps, spec pars.Spec) (Teardowner, error) {
		if newErr != nil {
			return nil, newErr
		}
		return group, nil
	}
}

func TestDownClobbersGroup(t *testing.T) {
	g := &fakeGroup{name: "proj"}
	stubDownSeams(t, g, nil)

	require.NoError(t, Down(context.Background(), "proj"))
	assert.True(t, g.clobbered)
}

func TestDownPropagatesAdoptionFailure(t *testing.T) {
	boom := errors.New("no such group")
	stubDownSeams(t, nil, boom)

	err := Down(context.Background(), "missing")
	require.ErrorIs(t, err, boom)
}
