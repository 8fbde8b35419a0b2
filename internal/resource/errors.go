package resource

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ExistsError signals that a remote object with the requested name
// already exists. It carries the conflicting identifier so callers can
// adopt it. It is a control-flow signal for adopt-vs-create branching,
// not a failure.
type ExistsError struct {
	ID string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("resource %s already exists", e.ID)
}

// NotFoundError signals that the requested remote object is gone. Like
// ExistsError it drives adopt-vs-create branching and is resolved
// locally, never surfaced to top-level callers.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource %s does not exist", e.ID)
}

// ClobberedError reports an operation attempted on an already
// torn-down resource. This is a usage error.
type ClobberedError struct {
	ID string
}

func (e *ClobberedError) Error() string {
	return fmt.Sprintf("resource %s has already been clobbered", e.ID)
}

// RegionMismatchError prevents operating on a resource from a region
// other than the one it was created in.
type RegionMismatchError struct {
	Resource string
	Active   string
}

func (e *RegionMismatchError) Error() string {
	return fmt.Sprintf("resource region (%s) does not match the active region (%s)", e.Resource, e.Active)
}

// ProfileMismatchError prevents operating on a resource from a profile
// other than the one it was created with.
type ProfileMismatchError struct {
	Resource string
	Active   string
}

func (e *ProfileMismatchError) Error() string {
	return fmt.Sprintf("resource profile (%s) does not match the active profile (%s)", e.Resource, e.Active)
}

// ConfigurationError reports that the durable store is missing its
// configured gate, i.e. `weft configure` has not been run.
type ConfigurationError struct {
	Path string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("weft has not been configured; run `weft configure` first (config file: %s)", e.Path)
}

// InputError reports a caller-supplied argument that failed validation.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

func inputErrorf(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsExists reports whether err is an ExistsError.
func IsExists(err error) bool {
	var ex *ExistsError
	return errors.As(err, &ex)
}

// apiErrorCode reports whether err is an AWS API error with one of the
// given codes. Typed SDK errors are preferred where they exist; this is
// the fallback used for services whose SDKs surface plain API codes.
func apiErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	got := apiErr.ErrorCode()
	for _, code := range codes {
		if got == code {
			return true
		}
	}
	return false
}
