package engine

import (
	"regexp"
	"testing"

	"github.com/ansel1/subunit/subunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilters(t *testing.T) {
	start := subunit.NewStart("pkg.TestA")
	pass := subunit.NewSuccess("pkg.TestA")
	fail := subunit.NewFail("other.TestB", "x")
	progress := subunit.NewProgress("+2")

	assert.True(t, IncludeKinds(subunit.KindFail)(fail))
	assert.False(t, IncludeKinds(subunit.KindFail)(pass))
	assert.False(t, ExcludeKinds(subunit.KindSuccess)(pass))
	assert.True(t, ExcludeKinds(subunit.KindSuccess)(start))

	re := regexp.MustCompile(`^pkg\.`)
	assert.True(t, MatchID(re)(start))
	assert.False(t, MatchID(re)(fail))
	assert.True(t, MatchID(re)(progress), "progress marks are not test ids")
	assert.False(t, ExcludeID(re)(start))
	assert.True(t, ExcludeID(re)(fail))

	assert.True(t, And()(pass))
	assert.True(t, And(nil, MatchID(re))(pass))
	assert.False(t, And(MatchID(re), ExcludeKinds(subunit.KindSuccess))(pass))
	assert.False(t, Or()(pass))
	assert.True(t, Or(IncludeKinds(subunit.KindFail), MatchID(re))(pass))
	assert.True(t, Not(MatchID(re))(fail))
}

func TestFilterFromOptions(t *testing.T) {
	f, err := FilterFromOptions(FilterOptions{})
	require.NoError(t, err)
	assert.Nil(t, f)

	tests := []struct {
		name string
		opts FilterOptions
		keep []subunit.Event
		drop []subunit.Event
	}{
		{
			name: "no-success",
			opts: FilterOptions{NoSuccess: true},
			keep: []subunit.Event{subunit.NewStart("a"), subunit.NewFail("a", "")},
			drop: []subunit.Event{subunit.NewSuccess("a")},
		},
		{
			name: "only genuine failures",
			opts: FilterOptions{OnlyGenuineFailures: true},
			keep: []subunit.Event{subunit.NewFail("a", ""), subunit.NewError("a", "")},
			drop: []subunit.Event{subunit.NewSuccess("a"), subunit.NewSkip("a", "")},
		},
		{
			name: "no-failure no-error",
			opts: FilterOptions{NoFailure: true, NoError: true},
			keep: []subunit.Event{subunit.NewSkip("a", "")},
			drop: []subunit.Event{subunit.NewFail("a", ""), subunit.NewError("a", "")},
		},
		{
			name: "with any of",
			opts: FilterOptions{With: []string{"^net", "^db"}},
			keep: []subunit.Event{subunit.NewStart("net.Dial"), subunit.NewStart("db.Open"), subunit.NewProgress("push")},
			drop: []subunit.Event{subunit.NewStart("ui.Render")},
		},
		{
			name: "with and without",
			opts: FilterOptions{With: []string{"^net"}, Without: []string{"Slow$"}},
			keep: []subunit.Event{subunit.NewStart("net.Dial")},
			drop: []subunit.Event{subunit.NewStart("net.DialSlow"), subunit.NewStart("db.Open")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FilterFromOptions(tt.opts)
			require.NoError(t, err)
			require.NotNil(t, f)
			for _, ev := range tt.keep {
				assert.True(t, f(ev), "should keep %s %s", ev.Kind, ev.TestID)
			}
			for _, ev := range tt.drop {
				assert.False(t, f(ev), "should drop %s %s", ev.Kind, ev.TestID)
			}
		})
	}

	_, err = FilterFromOptions(FilterOptions{With: []string{"("}})
	assert.ErrorContains(t, err, "--with")
	_, err = FilterFromOptions(FilterOptions{Without: []string{"["}})
	assert.ErrorContains(t, err, "--without")
}
