// Package policy implements the row-buffer management and request
// prioritization policies of a memory controller.
package policy

import "fmt"

// Policy decides when an open row is closed.
type Policy int

// A list of all page policies.
const (
	Closed Policy = iota
	Open
	LocalPred
	GlobalPred
	Tournament
	MinimalistOpen
	AdaptiveOpen
)

var policyNames = map[string]Policy{
	"closed":     Closed,
	"open":       Open,
	"l_pred":     LocalPred,
	"g_pred":     GlobalPred,
	"tournament": Tournament,
	"m_open":     MinimalistOpen,
	"a_open":     AdaptiveOpen,
}

// Parse converts a policy name into a Policy. The empty string selects the
// closed policy.
func Parse(name string) (Policy, error) {
	if name == "" {
		return Closed, nil
	}

	p, ok := policyNames[name]
	if !ok {
		return Closed, fmt.Errorf("unknown scheduling policy %q", name)
	}

	return p, nil
}

func (p Policy) String() string {
	for n, v := range policyNames {
		if v == p {
			return n
		}
	}

	return "unknown"
}

// TimesOut returns true if the policy closes rows only after a timeout.
func (p Policy) TimesOut() bool {
	return p == MinimalistOpen || p == AdaptiveOpen
}

// AlwaysOpen returns true if the policy never closes a row right after a
// column access.
func (p Policy) AlwaysOpen() bool {
	return p == Open || p.TimesOut()
}
