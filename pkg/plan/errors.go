package plan

import (
	"errors"
	"fmt"
)

// Planning failures are configuration errors: they depend only on the
// plan itself, never on the data, and surface before any dataflow node
// is constructed. Callers classify them with errors.Is.
var (
	// ErrMalformedEqualities reports an equality constraint set that
	// violates the single-membership rule, references an attribute out
	// of range, or relates fewer than two attributes.
	ErrMalformedEqualities = errors.New("malformed equality constraints")

	// ErrDisconnectedPlan reports a source required by the results or
	// the equalities that the join order rooted at some branch never
	// reaches.
	ErrDisconnectedPlan = errors.New("disconnected equality graph")

	// ErrUnresolvedResult reports a result attribute that is never
	// accumulated by the time a delta branch projects its output.
	ErrUnresolvedResult = errors.New("unresolved result attribute")

	// ErrZeroKeyStep reports a join step whose key set is empty, which
	// would degenerate into a Cartesian product.
	ErrZeroKeyStep = errors.New("join step without keys")
)

type ErrMalformed = error

func NewMalformedEqualitiesError(format string, args ...any) ErrMalformed {
	return fmt.Errorf("%w: %s", ErrMalformedEqualities, fmt.Sprintf(format, args...))
}

type ErrDisconnected = error

func NewDisconnectedPlanError(format string, args ...any) ErrDisconnected {
	return fmt.Errorf("%w: %s", ErrDisconnectedPlan, fmt.Sprintf(format, args...))
}

type ErrUnresolved = error

func NewUnresolvedResultError(format string, args ...any) ErrUnresolved {
	return fmt.Errorf("%w: %s", ErrUnresolvedResult, fmt.Sprintf(format, args...))
}

type ErrZeroKey = error

func NewZeroKeyStepError(format string, args ...any) ErrZeroKey {
	return fmt.Errorf("%w: %s", ErrZeroKeyStep, fmt.Sprintf(format, args...))
}
