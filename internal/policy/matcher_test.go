package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"entryproc/pkg/types"
)

func TestMatchReturnsFirstFullyMatchingRule(t *testing.T) {
	m := New([]Rule{
		{
			Name:         "cold-archive",
			ReleaseClass: "cold",
			ArchiveClass: "glacier",
			Conditions: []Condition{
				{Field: "full_path", Op: OpHasPrefix, Value: "/archive/"},
			},
		},
		{
			Name:         "default",
			ReleaseClass: "standard",
			ArchiveClass: "standard",
			Conditions: []Condition{
				{Field: "name", Op: OpHasSuffix, Value: ".txt"},
			},
		},
	})

	attrs := types.EntryAttributes{FullPath: "/archive/a.txt", Name: "a.txt"}
	mask := types.AttrMask(0).Set(types.AttrFullPath).Set(types.AttrName)

	result := m.Match(attrs, mask)
	assert.True(t, result.Evaluated)
	assert.Equal(t, "cold", result.ReleaseClass)
	assert.Equal(t, "glacier", result.ArchiveClass)
}

func TestMatchRequiresAllConditionsInARule(t *testing.T) {
	m := New([]Rule{
		{
			Name:         "big-no-release",
			ReleaseClass: "protected",
			Conditions: []Condition{
				{Field: "no_release", Op: OpEquals, Value: "true"},
				{Field: "stripe_count", Op: OpGreater, Value: "2"},
			},
		},
	})

	attrs := types.EntryAttributes{NoRelease: true, StripeInfo: types.StripeInfo{StripeCount: 1}}
	mask := types.AttrMask(0).Set(types.AttrNoRelease).Set(types.AttrStripeInfo)

	result := m.Match(attrs, mask)
	assert.False(t, result.Evaluated)
}

func TestMatchReturnsUnevaluatedWhenNoRuleMatches(t *testing.T) {
	m := New([]Rule{
		{Name: "never", Conditions: []Condition{{Field: "name", Op: OpEquals, Value: "nope"}}},
	})

	result := m.Match(types.EntryAttributes{Name: "a.txt"}, types.AttrMask(0).Set(types.AttrName))
	assert.False(t, result.Evaluated)
}

func TestMatchTreatsUnknownFieldAsNonMatching(t *testing.T) {
	m := New([]Rule{
		{Name: "r", ReleaseClass: "x", Conditions: []Condition{{Field: "bogus_field", Op: OpEquals, Value: "1"}}},
	})

	result := m.Match(types.EntryAttributes{}, types.AttrMask(0))
	assert.False(t, result.Evaluated)
}

func TestMatchRequiresUnmaskedFieldToBeKnown(t *testing.T) {
	m := New([]Rule{
		{Name: "r", ReleaseClass: "x", Conditions: []Condition{{Field: "name", Op: OpEquals, Value: "a.txt"}}},
	})

	// Name equals "a.txt" but the mask says it was never fetched.
	result := m.Match(types.EntryAttributes{Name: "a.txt"}, types.AttrMask(0))
	assert.False(t, result.Evaluated)
}
