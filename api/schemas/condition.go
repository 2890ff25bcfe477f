package schemas

// -- Condition Schemas --

// ConditionKind selects the node type of a Condition tree.
type ConditionKind string

const (
	ConditionCompare ConditionKind = "compare"
	ConditionTruthy  ConditionKind = "truthy"
	ConditionFalsy   ConditionKind = "falsy"
	ConditionNot     ConditionKind = "not"
	ConditionAnd     ConditionKind = "and"
	ConditionOr      ConditionKind = "or"
)

// CompareOp is the operator of a compare node.
type CompareOp string

const (
	OpEq          CompareOp = "eq"
	OpNeq         CompareOp = "neq"
	OpGt          CompareOp = "gt"
	OpGte         CompareOp = "gte"
	OpLt          CompareOp = "lt"
	OpLte         CompareOp = "lte"
	OpContains    CompareOp = "contains"
	OpNotContains CompareOp = "notContains"
	OpStartsWith  CompareOp = "startsWith"
	OpEndsWith    CompareOp = "endsWith"
	OpRegex       CompareOp = "regex"
)

// Operand is either a variable reference or a literal. Var wins when both are set.
// String literals may contain {{ }} templates.
type Operand struct {
	Var   string      `json:"var,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// Condition is a boolean expression tree evaluated against the VariableStore.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// compare
	Op    CompareOp `json:"op,omitempty"`
	Left  *Operand  `json:"left,omitempty"`
	Right *Operand  `json:"right,omitempty"`

	// truthy / falsy
	Value *Operand `json:"value,omitempty"`

	// not
	Condition *Condition `json:"condition,omitempty"`

	// and / or
	Conditions []Condition `json:"conditions,omitempty"`
}
