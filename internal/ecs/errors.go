package ecs

import "fmt"

// WhiskerError is the error type for the layers above the hard-core data
// structures. It follows the teacher's ecs.ECSError shape: a stable code plus
// optional entity/component/system context. Within this module it is
// constructed only by world's allocation-failure abort; the pool and
// scheduler registration APIs return no errors.
//
// The sparse set, entity registry, component store, and iterator below this
// layer instead follow spec.md's §7 "optional pointer / sentinel ID / fatal
// abort" style and do not return errors at all - that distinction is
// deliberate, not an oversight.
type WhiskerError struct {
	Code      string
	Message   string
	Entity    EntityID
	Component string
	System    string
}

func (e *WhiskerError) Error() string {
	switch {
	case e.Entity != InvalidEntityID && e.Component != "":
		return fmt.Sprintf("[%s] %s (entity: %s, component: %s)", e.Code, e.Message, e.Entity, e.Component)
	case e.Entity != InvalidEntityID:
		return fmt.Sprintf("[%s] %s (entity: %s)", e.Code, e.Message, e.Entity)
	case e.Component != "":
		return fmt.Sprintf("[%s] %s (component: %s)", e.Code, e.Message, e.Component)
	case e.System != "":
		return fmt.Sprintf("[%s] %s (system: %s)", e.Code, e.Message, e.System)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// WithEntity attaches entity context and returns the same error for chaining.
func (e *WhiskerError) WithEntity(id EntityID) *WhiskerError {
	e.Entity = id
	return e
}

// WithComponent attaches component context and returns the same error.
func (e *WhiskerError) WithComponent(name string) *WhiskerError {
	e.Component = name
	return e
}

// WithSystem attaches system context and returns the same error.
func (e *WhiskerError) WithSystem(name string) *WhiskerError {
	e.System = name
	return e
}

// Error codes for WhiskerError.Code.
const (
	ErrEntityNotFound     = "ENTITY_NOT_FOUND"
	ErrEntityLimitReached = "ENTITY_LIMIT_REACHED"
	ErrComponentNotFound  = "COMPONENT_NOT_FOUND"
	ErrPhaseNotFound      = "PHASE_NOT_FOUND"
	ErrTimeStepNotFound   = "TIME_STEP_NOT_FOUND"
	ErrSystemExists       = "SYSTEM_EXISTS"
	ErrPoolExhausted      = "POOL_EXHAUSTED"
	ErrInvalidConfig      = "INVALID_CONFIG"
)

func newErr(code, message string) *WhiskerError {
	return &WhiskerError{Code: code, Message: message}
}

// EntityNotFoundErr reports an operation against an id the registry has no
// record of, or whose version is stale.
func EntityNotFoundErr(id EntityID) *WhiskerError {
	return newErr(ErrEntityNotFound, fmt.Sprintf("entity %s not found or stale", id)).WithEntity(id)
}
