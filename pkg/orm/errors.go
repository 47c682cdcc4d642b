package orm

import (
	"errors"
	"fmt"
)

// Schema configuration errors. They are fatal: a registry that fails to register
// or finalize must not be used.
var (
	ErrConfig            = errors.New("orm: invalid schema configuration")
	ErrDuplicateModel    = errors.New("orm: model already registered")
	ErrUnknownModel      = errors.New("orm: unknown model")
	ErrInverseMismatch   = errors.New("orm: inverse relationship kinds do not pair")
	ErrNotSequence       = errors.New("orm: relationship declaration must be a list")
	ErrInvalidType       = errors.New("orm: invalid attribute type")
	ErrRegistryFinalized = errors.New("orm: registry already finalized")
	ErrNotFinalized      = errors.New("orm: registry not finalized")
)

// Per-call errors.
var (
	ErrUnknownAttribute = errors.New("orm: unknown attribute")
	ErrTypeMismatch     = errors.New("orm: attribute type mismatch")
	ErrInvalidID        = errors.New("orm: identifiers must be positive")
	ErrNotPersisted     = errors.New("orm: instance has no identifier")
	ErrNoRelation       = errors.New("orm: no related instance set")
	ErrInvalidArgument  = errors.New("orm: invalid argument")
)

// ConfigError reports a malformed model declaration. It matches ErrConfig and
// the wrapped cause with errors.Is.
type ConfigError struct {
	Model string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("model %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("model %s, %s: %v", e.Model, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is makes every ConfigError match ErrConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// AttributeError names an attribute that the model does not declare.
type AttributeError struct {
	Model string
	Attr  string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%s is not an attribute of %s", e.Attr, e.Model)
}

func (e *AttributeError) Unwrap() error { return ErrUnknownAttribute }

func typeMismatch(model, attr string, typ AttrType, v any) error {
	return fmt.Errorf("%s.%s is %s, got %T: %w", model, attr, typ, v, ErrTypeMismatch)
}
