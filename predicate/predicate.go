// Package predicate provides the conditions guarding backend transactions.
package predicate

// Op is the comparison applied by a predicate.
type Op int

const (
	// OpEqual holds when the compared aspect equals the operand.
	OpEqual Op = iota
	// OpNotEqual holds when the compared aspect differs from the operand.
	OpNotEqual
	// OpGreater holds when the compared revision is above the operand.
	OpGreater
	// OpLess holds when the compared revision is below the operand.
	OpLess
)

func (op Op) String() string {
	switch op {
	case OpEqual:
		return "Equal"
	case OpNotEqual:
		return "NotEqual"
	case OpGreater:
		return "Greater"
	case OpLess:
		return "Less"
	}

	return "Unknown"
}

// Target is the aspect of a key a predicate looks at.
type Target int

const (
	// TargetVersion compares the modification revision; an absent key has revision 0.
	TargetVersion Target = iota
	// TargetValue compares the stored bytes.
	TargetValue
)

func (t Target) String() string {
	switch t {
	case TargetVersion:
		return "Version"
	case TargetValue:
		return "Value"
	}

	return "Unknown"
}

// Predicate represents a condition used for conditional operations.
// Predicates are used in transactions to specify conditions for execution.
type Predicate interface {
	// Key returns the key that this predicate applies to.
	Key() []byte
	// Operation returns the comparison operation (Equal, NotEqual, Greater, Less).
	Operation() Op
	// Target returns what aspect of the key to compare (Version, Value).
	Target() Target
	// Value returns the comparison value for the predicate.
	Value() any
}

type predicate struct {
	key    []byte
	op     Op
	target Target
	value  any
}

func (p predicate) Key() []byte    { return p.key }
func (p predicate) Operation() Op  { return p.op }
func (p predicate) Target() Target { return p.target }
func (p predicate) Value() any     { return p.value }

// ValueEqual creates a predicate that holds when the key value equals value.
func ValueEqual(key []byte, value any) Predicate {
	return predicate{key: key, op: OpEqual, target: TargetValue, value: value}
}

// ValueNotEqual creates a predicate that holds when the key value differs from value.
func ValueNotEqual(key []byte, value any) Predicate {
	return predicate{key: key, op: OpNotEqual, target: TargetValue, value: value}
}

// VersionEqual creates a predicate that holds when the key revision equals version.
// A zero version matches an absent key.
func VersionEqual(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpEqual, target: TargetVersion, value: version}
}

// VersionNotEqual creates a predicate that holds when the key revision differs from version.
func VersionNotEqual(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpNotEqual, target: TargetVersion, value: version}
}

// VersionGreater creates a predicate that holds when the key revision is greater than version.
// VersionGreater(key, 0) holds for every present key.
func VersionGreater(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpGreater, target: TargetVersion, value: version}
}

// VersionLess creates a predicate that holds when the key revision is less than version.
func VersionLess(key []byte, version int64) Predicate {
	return predicate{key: key, op: OpLess, target: TargetVersion, value: version}
}

// Absent is a shorthand for a predicate that holds only when key is missing.
func Absent(key []byte) Predicate {
	return VersionEqual(key, 0)
}

// Present is a shorthand for a predicate that holds only when key exists.
func Present(key []byte) Predicate {
	return VersionGreater(key, 0)
}
