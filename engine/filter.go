package engine

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/ansel1/subunit/subunit"
)

// Filter decides whether a test event is kept.
type Filter func(subunit.Event) bool

// IncludeKinds keeps only events of the given kinds.
func IncludeKinds(kinds ...subunit.Kind) Filter {
	return func(ev subunit.Event) bool {
		return slices.Contains(kinds, ev.Kind)
	}
}

// ExcludeKinds drops events of the given kinds.
func ExcludeKinds(kinds ...subunit.Kind) Filter {
	return Not(IncludeKinds(kinds...))
}

// MatchID keeps test events whose id matches re. Progress marks carry no
// test id and are kept.
func MatchID(re *regexp.Regexp) Filter {
	return func(ev subunit.Event) bool {
		return ev.Kind == subunit.KindProgress || re.MatchString(ev.TestID)
	}
}

// ExcludeID drops test events whose id matches re.
func ExcludeID(re *regexp.Regexp) Filter {
	return func(ev subunit.Event) bool {
		return ev.Kind == subunit.KindProgress || !re.MatchString(ev.TestID)
	}
}

// And keeps events every filter keeps. Nil filters are ignored.
func And(filters ...Filter) Filter {
	return func(ev subunit.Event) bool {
		for _, f := range filters {
			if f != nil && !f(ev) {
				return false
			}
		}
		return true
	}
}

// Or keeps events any filter keeps. Nil filters are ignored; with none
// left, nothing is kept.
func Or(filters ...Filter) Filter {
	return func(ev subunit.Event) bool {
		for _, f := range filters {
			if f != nil && f(ev) {
				return true
			}
		}
		return false
	}
}

// Not inverts f.
func Not(f Filter) Filter {
	return func(ev subunit.Event) bool {
		return !f(ev)
	}
}

// FilterOptions mirrors the switches of the subunit-filter tool.
type FilterOptions struct {
	NoSuccess bool
	NoSkip    bool
	NoFailure bool
	NoError   bool

	// OnlyGenuineFailures keeps failures and errors only, like -F.
	OnlyGenuineFailures bool

	With    []string // keep tests matching any of these patterns
	Without []string // drop tests matching any of these patterns
}

// FilterFromOptions builds a filter from o. It returns a nil filter when o
// keeps everything.
func FilterFromOptions(o FilterOptions) (Filter, error) {
	var filters []Filter

	var drop []subunit.Kind
	if o.NoSuccess || o.OnlyGenuineFailures {
		drop = append(drop, subunit.KindSuccess)
	}
	if o.NoSkip || o.OnlyGenuineFailures {
		drop = append(drop, subunit.KindSkip)
	}
	if o.NoFailure {
		drop = append(drop, subunit.KindFail)
	}
	if o.NoError {
		drop = append(drop, subunit.KindError)
	}
	if len(drop) > 0 {
		filters = append(filters, ExcludeKinds(drop...))
	}

	if len(o.With) > 0 {
		var match []Filter
		for _, pat := range o.With {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("invalid --with pattern: %w", err)
			}
			match = append(match, MatchID(re))
		}
		filters = append(filters, Or(match...))
	}
	for _, pat := range o.Without {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid --without pattern: %w", err)
		}
		filters = append(filters, ExcludeID(re))
	}

	if len(filters) == 0 {
		return nil, nil
	}
	return And(filters...), nil
}
