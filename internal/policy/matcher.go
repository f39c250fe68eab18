// Package policy is a deliberately minimal release/archive class
// matcher: a rule language is explicitly out of scope, so this is a flat
// "Field Op Value" predicate evaluator, ANDed within a rule, with rules
// tried in order and the first full match winning.
package policy

import (
	"strconv"
	"strings"

	"entryproc/pkg/types"
)

// Op is a condition's comparison operator.
type Op string

const (
	OpEquals     Op = "=="
	OpNotEquals  Op = "!="
	OpGreater    Op = ">"
	OpLess       Op = "<"
	OpHasPrefix  Op = "hasPrefix"
	OpHasSuffix  Op = "hasSuffix"
)

// Condition compares one EntryAttributes field against a literal value.
type Condition struct {
	Field string
	Op    Op
	Value string
}

// Rule matches when every one of its Conditions holds. The first
// matching rule in Match order wins.
type Rule struct {
	Name         string
	ReleaseClass string
	ArchiveClass string
	Conditions   []Condition
}

// Matcher implements types.PolicyMatcher.
type Matcher struct {
	rules []Rule
}

func New(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

func (m *Matcher) Match(attrs types.EntryAttributes, mask types.AttrMask) types.PolicyMatch {
	for _, rule := range m.rules {
		if ruleMatches(rule, attrs, mask) {
			return types.PolicyMatch{
				Evaluated:    true,
				ReleaseClass: rule.ReleaseClass,
				ArchiveClass: rule.ArchiveClass,
			}
		}
	}
	return types.PolicyMatch{}
}

func ruleMatches(rule Rule, attrs types.EntryAttributes, mask types.AttrMask) bool {
	for _, cond := range rule.Conditions {
		actual, known := fieldValue(cond.Field, attrs, mask)
		if !known || !compare(cond.Op, actual, cond.Value) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

func fieldValue(field string, attrs types.EntryAttributes, mask types.AttrMask) (string, bool) {
	switch field {
	case "name":
		return attrs.Name, mask.Test(types.AttrName)
	case "full_path":
		return attrs.FullPath, mask.Test(types.AttrFullPath)
	case "status":
		return attrs.Status.String(), mask.Test(types.AttrStatus)
	case "no_release":
		return strconv.FormatBool(attrs.NoRelease), mask.Test(types.AttrNoRelease)
	case "no_archive":
		return strconv.FormatBool(attrs.NoArchive), mask.Test(types.AttrNoArchive)
	case "stripe_count":
		return strconv.Itoa(attrs.StripeInfo.StripeCount), mask.Test(types.AttrStripeInfo)
	default:
		return "", false
	}
}

func compare(op Op, actual, value string) bool {
	switch op {
	case OpEquals:
		return actual == value
	case OpNotEquals:
		return actual != value
	case OpHasPrefix:
		return strings.HasPrefix(actual, value)
	case OpHasSuffix:
		return strings.HasSuffix(actual, value)
	case OpGreater, OpLess:
		a, errA := strconv.ParseFloat(actual, 64)
		v, errV := strconv.ParseFloat(value, 64)
		if errA != nil || errV != nil {
			return false
		}
		if op == OpGreater {
			return a > v
		}
		return a < v
	default:
		return false
	}
}
