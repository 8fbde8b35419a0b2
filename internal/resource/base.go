// Package resource implements the named-resource model shared by every
// remote object weft manages: a human-chosen name, the region/profile
// the resource was bound to at creation time, a monotonic clobbered
// flag, and an adopt-or-create reconciliation lifecycle.
package resource

import (
	"context"
	"regexp"
	"strings"

	"github.com/weftlabs/weft/internal/config"
)

// namePattern is enforced before any remote call. Names end up in AWS
// resource identifiers, so underscores and leading digits are out.
var namePattern = regexp.MustCompile(`^[A-Za-z][-A-Za-z0-9]*$`)

// Resource is the capability every concrete resource kind implements.
// The dependency group holds this interface, not concrete types.
type Resource interface {
	Name() string
	Region() string
	Profile() string
	Clobbered() bool
	Clobber(ctx context.Context) error
}

// ValidateName checks a logical name against the naming rule without
// constructing a resource. Used for names that are not themselves
// remote objects, like dependency groups.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return inputErrorf(
			"name %q is used in AWS resource identifiers and must match %s (underscores are not allowed)",
			name, namePattern.String())
	}
	return nil
}

// Base carries the identity shared by all named resources. It binds the
// resource to the region/profile that was active at construction time.
type Base struct {
	name      string
	region    string
	profile   string
	clobbered bool
}

// NewBase validates name and snapshots the active region/profile.
// Construction fails if the durable store has not been configured.
func NewBase(name string) (Base, error) {
	ok, err := config.Configured()
	if err != nil {
		return Base{}, err
	}
	if !ok {
		path, _ := config.Path()
		return Base{}, &ConfigurationError{Path: path}
	}

	if err := ValidateName(name); err != nil {
		return Base{}, err
	}

	region, err := config.Region()
	if err != nil {
		return Base{}, err
	}
	profile, err := config.Profile()
	if err != nil {
		return Base{}, err
	}

	return Base{name: name, region: region, profile: profile}, nil
}

// Name returns the resource's logical name.
func (b *Base) Name() string { return b.name }

// Region returns the region this resource was bound to at creation.
func (b *Base) Region() string { return b.region }

// Profile returns the profile this resource was bound to at creation.
func (b *Base) Profile() string { return b.profile }

// Clobbered reports whether this resource has been torn down. The flag
// is monotonic: once set it is never reset.
func (b *Base) Clobbered() bool { return b.clobbered }

// MarkClobbered sets the monotonic clobbered flag.
func (b *Base) MarkClobbered() { b.clobbered = true }

// SectionName returns the durable-store section for this resource kind,
// scoped to the profile/region the resource is bound to.
func (b *Base) SectionName(kind string) string {
	return strings.Join([]string{kind, b.profile, b.region}, " ")
}

// CheckSession asserts that the currently active region and profile
// match the ones this resource is bound to. Every mutating operation
// calls this first; a mismatch must never become a silent operation
// against the wrong account.
func (b *Base) CheckSession() error {
	region, err := config.Region()
	if err != nil {
		return err
	}
	if region != b.region {
		return &RegionMismatchError{Resource: b.region, Active: region}
	}

	profile, err := config.Profile()
	if err != nil {
		return err
	}
	if profile != b.profile {
		return &ProfileMismatchError{Resource: b.profile, Active: profile}
	}
	return nil
}

// Guard combines the clobbered check and the session check. id is the
// remote identifier reported if the resource is already clobbered.
func (b *Base) Guard(id string) error {
	if b.clobbered {
		return &ClobberedError{ID: id}
	}
	return b.CheckSession()
}
