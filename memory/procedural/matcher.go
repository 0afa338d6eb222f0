package procedural

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// evaluateConditions applies AND semantics: every condition must hold.
// A failing condition short-circuits the pattern as non-matching.
func evaluateConditions(conditions []TriggerCondition, evalContext map[string]any) bool {
	for _, condition := range conditions {
		if !evaluateCondition(condition, evalContext) {
			return false
		}
	}
	return true
}

// evaluateCondition resolves the condition's field via dot-path traversal
// and applies the operator. Unresolvable fields, unparseable regexes, and
// non-numeric operands for numeric operators all fail the single condition
// rather than erroring.
func evaluateCondition(condition TriggerCondition, evalContext map[string]any) bool {
	fieldValue, ok := resolveFieldPath(evalContext, condition.Field)
	if !ok {
		return false
	}

	switch condition.Operator {
	case OpEquals:
		return equalsStrict(fieldValue, condition.Value)
	case OpContains:
		return strings.Contains(coerceString(fieldValue), coerceString(condition.Value))
	case OpMatches:
		pattern, err := regexp.Compile(coerceString(condition.Value))
		if err != nil {
			return false
		}
		return pattern.MatchString(coerceString(fieldValue))
	case OpGreaterThan:
		fieldNum, ok1 := coerceFloat(fieldValue)
		condNum, ok2 := coerceFloat(condition.Value)
		return ok1 && ok2 && fieldNum > condNum
	case OpLessThan:
		fieldNum, ok1 := coerceFloat(fieldValue)
		condNum, ok2 := coerceFloat(condition.Value)
		return ok1 && ok2 && fieldNum < condNum
	default:
		return false
	}
}

// resolveFieldPath traverses nested maps along a dot-separated path.
func resolveFieldPath(evalContext map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = evalContext
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equalsStrict compares interface values without panicking on uncomparable
// types such as slices.
func equalsStrict(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
