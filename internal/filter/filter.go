package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Regex matches text against a set of expressions with OR semantics.
// Expressions use search semantics: they match anywhere in the text unless
// anchored.
type Regex struct {
	exprs []*regexp.Regexp
}

// New compiles exprs; blank expressions are ignored.
func New(exprs ...string) (*Regex, error) {
	f := &Regex{}
	for _, e := range exprs {
		if strings.TrimSpace(e) == "" {
			continue
		}
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", e, err)
		}
		f.exprs = append(f.exprs, re)
	}
	return f, nil
}

// Empty reports whether the filter has no expressions.
func (f *Regex) Empty() bool { return f == nil || len(f.exprs) == 0 }

// Match reports whether any expression is found in text.
func (f *Regex) Match(text string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.exprs {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Allow applies include-then-exclude: an empty include admits everything,
// an empty exclude removes nothing.
func Allow(text string, include, exclude *Regex) bool {
	if !include.Empty() && !include.Match(text) {
		return false
	}
	if !exclude.Empty() && exclude.Match(text) {
		return false
	}
	return true
}
