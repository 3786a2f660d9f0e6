package snapshot

import "regexp"

// DefaultRedactionPatterns identify binding names whose values should never
// land in an artifact verbatim.
var DefaultRedactionPatterns = []string{"password", "token", "secret", "key", "credential"}

// DefaultRedactionReplacement is the marker stored in place of a redacted value.
const DefaultRedactionReplacement = "***REDACTED***"

// Redactor replaces values bound under sensitive-looking names. Redaction
// never fails: a pattern that does not compile is skipped.
type Redactor struct {
	patterns    []*regexp.Regexp
	replacement string
}

// NewRedactor compiles the given case-insensitive name patterns. Empty
// arguments select the defaults.
func NewRedactor(patterns []string, replacement string) *Redactor {
	if len(patterns) == 0 {
		patterns = DefaultRedactionPatterns
	}
	if replacement == "" {
		replacement = DefaultRedactionReplacement
	}
	r := &Redactor{replacement: replacement}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// Sensitive reports whether a binding name matches any pattern.
func (r *Redactor) Sensitive(name string) bool {
	for _, re := range r.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Apply returns bindings with sensitive-named values replaced by the marker.
func (r *Redactor) Apply(in Bindings) Bindings {
	out := make(Bindings, 0, len(in))
	for _, b := range in {
		if r.Sensitive(b.Name) {
			out = append(out, Binding{Name: b.Name, Value: String(r.replacement)})
			continue
		}
		out = append(out, b)
	}
	return out
}
