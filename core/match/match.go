// Package match evaluates (tier-pattern, value-pattern) filters against
// annotation records.
//
// Both patterns use whole-string semantics: a pattern must match the entire
// tier or value, not a substring. "Pro" does not match "Pronoun"; "Pro.*"
// does. Matching is case-sensitive and nothing is normalized. The dialect is
// Go's RE2 syntax.
package match

import (
	"regexp"

	"github.com/FocuswithJustin/eafsr/core/annotation"
	"github.com/FocuswithJustin/eafsr/core/errors"
)

// AnyTier is substituted for an empty tier pattern.
const AnyTier = ".*"

// Filter is a compiled (tier, value) pattern pair.
type Filter struct {
	tierPattern  string
	valuePattern string
	tier         *regexp.Regexp
	value        *regexp.Regexp
}

// Compile compiles a filter. name labels the filter in errors (e.g. "slot1").
// An invalid pattern yields *errors.InvalidPatternError.
func Compile(name, tierPattern, valuePattern string) (*Filter, error) {
	if tierPattern == "" {
		tierPattern = AnyTier
	}

	tier, err := compileFull(tierPattern)
	if err != nil {
		return nil, errors.NewInvalidPattern(field(name, "tier"), tierPattern, err)
	}
	value, err := compileFull(valuePattern)
	if err != nil {
		return nil, errors.NewInvalidPattern(field(name, "value"), valuePattern, err)
	}

	return &Filter{
		tierPattern:  tierPattern,
		valuePattern: valuePattern,
		tier:         tier,
		value:        value,
	}, nil
}

// compileFull anchors p so that it only matches whole strings.
func compileFull(p string) (*regexp.Regexp, error) {
	// Validate the bare pattern first so error messages quote what the user wrote.
	if _, err := regexp.Compile(p); err != nil {
		return nil, err
	}
	return regexp.Compile(`^(?:` + p + `)$`)
}

func field(name, part string) string {
	if name == "" {
		return part
	}
	return name + "." + part
}

// Matches reports whether a passes the filter. Records with an empty value
// never match.
func (f *Filter) Matches(a *annotation.Annotation) bool {
	if a.Value == "" {
		return false
	}
	if !f.tier.MatchString(a.Tier) {
		return false
	}
	return f.value.MatchString(a.Value)
}

// Select returns the records passing the filter, in input order.
func (f *Filter) Select(records []*annotation.Annotation) []*annotation.Annotation {
	var out []*annotation.Annotation
	for _, a := range records {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// TierPattern returns the effective tier pattern.
func (f *Filter) TierPattern() string { return f.tierPattern }

// ValuePattern returns the value pattern.
func (f *Filter) ValuePattern() string { return f.valuePattern }

// Matches is a one-shot convenience that compiles and evaluates a filter.
func Matches(a *annotation.Annotation, tierPattern, valuePattern string) (bool, error) {
	f, err := Compile("", tierPattern, valuePattern)
	if err != nil {
		return false, err
	}
	return f.Matches(a), nil
}
