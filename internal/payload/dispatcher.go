// Package payload implements the polymorphic payload dispatcher: given the
// set of field names observed on an encoded object, it selects the
// concrete variant tag to decode into.
package payload

// FieldSet is the set of field names observed on an encoded object.
type FieldSet map[string]bool

// NewFieldSet builds a FieldSet from a decoded map's keys.
func NewFieldSet(fields map[string]any) FieldSet {
	fs := make(FieldSet, len(fields))
	for k := range fields {
		fs[k] = true
	}
	return fs
}

// Has reports whether name was present in the encoded object.
func (fs FieldSet) Has(name string) bool { return fs[name] }

// DispatchRule is one entry in an ordered rule list: if Predicate matches
// the observed field set, Variant is the chosen concrete type tag.
type DispatchRule struct {
	Variant   string
	Predicate func(FieldSet) bool
}

// Dispatcher evaluates an ordered list of rules against an observed field
// set, returning the first matching Variant, or Default if none match.
type Dispatcher struct {
	rules   []DispatchRule
	Default string
}

// NewDispatcher builds a Dispatcher from rules evaluated in order, falling
// back to defaultVariant if no rule matches.
func NewDispatcher(defaultVariant string, rules ...DispatchRule) *Dispatcher {
	return &Dispatcher{rules: rules, Default: defaultVariant}
}

// Dispatch returns the concrete variant tag for an encoded object's field
// set: the first rule whose predicate matches, or the dispatcher's default.
func (d *Dispatcher) Dispatch(fields FieldSet) string {
	for _, rule := range d.rules {
		if rule.Predicate(fields) {
			return rule.Variant
		}
	}
	return d.Default
}
