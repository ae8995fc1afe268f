// Package policy defines how the monitor treats an intercepted call and
// the tab-separated policy file the monitor reads on the device.
package policy

import (
	"errors"
	"fmt"
)

// Policy is the enforcement decision for one intercepted call.
type Policy int

const (
	Allow Policy = iota // Perform the original call.
	Mock                // Return the descriptor's default value.
	Deny                // Throw the descriptor's exception.
)

// ErrUnknownPolicy is returned by Parse for names outside Values().
var ErrUnknownPolicy = errors.New("unknown policy")

// Values returns every policy in dispatch order.
func Values() []Policy {
	return []Policy{Allow, Mock, Deny}
}

// String returns the name used by the monitor's ApiPolicy enum.
func (p Policy) String() string {
	switch p {
	case Allow:
		return "Allow"
	case Mock:
		return "Mock"
	case Deny:
		return "Deny"
	default:
		panic(fmt.Sprintf("policy: unhandled value %d", int(p)))
	}
}

// Parse converts a policy name as written in the policy file.
func Parse(s string) (Policy, error) {
	for _, p := range Values() {
		if p.String() == s {
			return p, nil
		}
	}
	return Allow, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}
