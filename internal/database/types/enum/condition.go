package enum

import "fmt"

// Condition is a predicate that gates warning suppression and escalation
// for an obligation role.
type Condition int

const (
	// ConditionTime requires the deadline to elapse after role assignment.
	ConditionTime Condition = iota
	// ConditionPatrol requires accumulated tracked-zone time since assignment.
	ConditionPatrol
)

var conditionNames = map[Condition]string{
	ConditionTime:   "TIME",
	ConditionPatrol: "PATROL",
}

func (c Condition) String() string {
	if name, ok := conditionNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Condition(%d)", int(c))
}

// ConditionString parses a condition from its string form.
func ConditionString(s string) (Condition, error) {
	for c, name := range conditionNames {
		if name == s {
			return c, nil
		}
	}

	return 0, fmt.Errorf("%s does not belong to Condition values", s)
}

// MarshalText implements encoding.TextMarshaler so conditions serialize
// by name in JSON columns.
func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Condition) UnmarshalText(text []byte) error {
	parsed, err := ConditionString(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}
