package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is a comparison applied by a rule condition.
type Operator string

const (
	OpEquals      Operator = "Equals"
	OpNotEquals   Operator = "NotEquals"
	OpContains    Operator = "Contains"
	OpNotEmpty    Operator = "NotEmpty"
	OpEmpty       Operator = "Empty"
	OpGreaterThan Operator = "GreaterThan"
	OpLessThan    Operator = "LessThan"
)

// operatorAliases maps rule-data spellings inherited from the predecessor
// system onto the canonical operators.
var operatorAliases = map[string]Operator{
	"equals":      OpEquals,
	"notequals":   OpNotEquals,
	"contains":    OpContains,
	"notempty":    OpNotEmpty,
	"exists":      OpNotEmpty,
	"empty":       OpEmpty,
	"notexists":   OpEmpty,
	"greaterthan": OpGreaterThan,
	"lessthan":    OpLessThan,
}

// Condition is a single field/operator/value predicate from a scoring or
// workflow rule. Rules are data, so the fields arrive as strings and are
// interpreted here rather than compiled.
type Condition struct {
	Field    string
	Operator string
	Value    string
}

// FieldSet is a normalized view of an entity's attributes for rule
// evaluation. Keys are normalized with NormalizeField.
type FieldSet map[string]string

// NormalizeField canonicalizes a rule field name. Rule rows migrated from the
// predecessor system carry Hungarian-style prefixes ("strCompanyName",
// "intScore"); both spellings must resolve to the same attribute.
func NormalizeField(name string) string {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) > 3 {
		switch trimmed[:3] {
		case "str", "int":
			if trimmed[3] >= 'A' && trimmed[3] <= 'Z' {
				trimmed = trimmed[3:]
			}
		}
	}
	return strings.ToLower(trimmed)
}

// Set stores a value under the normalized form of the given field name.
func (f FieldSet) Set(name, value string) {
	f[NormalizeField(name)] = value
}

// Evaluate interprets the condition against the field set. Unknown fields
// evaluate as empty strings (a rule referencing a missing attribute matches
// Empty and fails NotEmpty). An unknown operator is a rule-data error.
func (c Condition) Evaluate(fields FieldSet) (bool, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(c.Operator))]
	if !ok {
		return false, fmt.Errorf("unknown condition operator %q", c.Operator)
	}

	actual := fields[NormalizeField(c.Field)]

	switch op {
	case OpEquals:
		return strings.EqualFold(actual, c.Value), nil
	case OpNotEquals:
		return !strings.EqualFold(actual, c.Value), nil
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(c.Value)), nil
	case OpNotEmpty:
		return strings.TrimSpace(actual) != "", nil
	case OpEmpty:
		return strings.TrimSpace(actual) == "", nil
	case OpGreaterThan, OpLessThan:
		left, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		if err != nil {
			return false, nil
		}
		right, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil {
			return false, fmt.Errorf("non-numeric condition value %q", c.Value)
		}
		if op == OpGreaterThan {
			return left > right, nil
		}
		return left < right, nil
	}

	return false, nil
}
