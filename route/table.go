package route

import (
	"sort"

	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/viewer"
)

// Table is an immutable set of rules with a default.
// Exact patterns are tried first, then prefixes from longest to shortest,
// then the default rule, which matches every path.
type Table struct {
	def      *Rule
	exact    map[string]*Rule
	prefixes []*Rule
	all      []*Rule
}

// NewTable validates the rules and builds the table.
// The rules are copied, changing them afterwards does not affect the table.
// Two rules with the same exact path or the same literal prefix are a
// ConfigurationConflict, as is an explicit rule matching every path.
func NewTable(defaultRule *Rule, rules ...*Rule) (*Table, error) {
	if defaultRule == nil {
		return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "routing table without default rule")
	}
	t := &Table{exact: make(map[string]*Rule)}
	t.def = copyRule(defaultRule)
	if err := t.def.compile(true); err != nil {
		return nil, err
	}
	prefixes := make(map[string]*Rule)
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		r := copyRule(rule)
		if err := r.compile(false); err != nil {
			return nil, err
		}
		seen := t.exact
		if r.wildcard {
			seen = prefixes
		}
		if other, ok := seen[r.literal]; ok {
			return nil, edgeerr.New(edgeerr.KindConfigurationConflict,
				"patterns %s and %s are equally specific", other.Pattern, r.Pattern).
				With("rule", r.Pattern)
		}
		seen[r.literal] = r
		if r.wildcard {
			t.prefixes = append(t.prefixes, r)
		}
		t.all = append(t.all, r)
	}
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].literal) > len(t.prefixes[j].literal)
	})
	t.all = append(t.all, t.def)
	return t, nil
}

func copyRule(r *Rule) *Rule {
	c := *r
	c.AllowedMethods = append([]string(nil), r.AllowedMethods...)
	return &c
}

// Match returns the rule for a path, ignoring the method.
func (t *Table) Match(p string) *Rule {
	p = viewer.NormalizePath(p)
	if r, ok := t.exact[p]; ok {
		return r
	}
	for _, r := range t.prefixes {
		if r.matches(p) {
			return r
		}
	}
	return t.def
}

// Resolve returns the rule for a request. If the rule does not allow the
// method, the rule is returned along with a MethodNotAllowed error.
func (t *Table) Resolve(p, method string) (*Rule, error) {
	r := t.Match(p)
	if !r.Allows(method) {
		return r, edgeerr.MethodNotAllowed(method, r.AllowedMethods).With("rule", r.Pattern)
	}
	return r, nil
}

func (t *Table) Default() *Rule {
	return t.def
}

// Rules returns every rule in the table, the default last.
func (t *Table) Rules() []*Rule {
	return append([]*Rule(nil), t.all...)
}
