package handlers

import (
	"context"
	"log"

	"github.com/weftlabs/weft/internal/clients"
	"github.com/weftlabs/weft/internal/pars"
)

// Teardowner is the slice of a dependency group the down handler
// needs.
type Teardowner interface {
	Name() string
	Clobber(ctx context.Context) error
}

// Factory function variables - can be replaced in tests.
var (
	newDownDeps = func(ctx context.Context) (pars.Deps, error) {
		reg := clients.NewRegistry()
		iamc, err := reg.IAM(ctx)
		if err != nil {
			return pars.Deps{}, err
		}
		ec2c, err := reg.EC2(ctx)
		if err != nil {
			return pars.Deps{}, err
		}
		return pars.Deps{IAM: iamc, EC2: ec2c}, nil
	}

	newGroup = func(ctx context.Context, deps pars.Deps, spec pars.Spec) (Teardowner, error) {
		return pars.New(ctx, deps, spec)
	}
)

// Down adopts the recorded dependency group named name and tears it
// down in reverse dependency order.
func Down(ctx context.Context, name string) error {
	deps, err := newDownDeps(ctx)
	if err != nil {
		return err
	}

	g, err := newGroup(ctx, deps, pars.Spec{Name: name})
	if err != nil {
		return err
	}

	log.Printf("[down] Tearing down group %s", g.Name())
	return g.Clobber(ctx)
}
