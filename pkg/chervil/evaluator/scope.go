package evaluator

// Scope is the three-tier variable environment used during evaluation and
// rendering:
//
//   - locals: lexical bindings (let, loop variables, arrow-function params)
//   - data: the externally supplied render input, or the resolved props
//     inside a component body
//   - globals: the cross-cutting namespace addressed only via $.name paths
//
// Scopes are never mutated in place. Extending any tier derives a new scope
// that shares the unchanged tiers with its parent, so sibling constructs
// (loop iterations, component instances) never observe each other's
// bindings.
type Scope struct {
	locals  map[string]Object
	parent  *Scope
	data    map[string]Object
	globals map[string]Object
}

// NewScope builds a root scope from a data tier and an initial globals map.
// Either may be nil.
func NewScope(data, globals map[string]Object) *Scope {
	if data == nil {
		data = map[string]Object{}
	}
	if globals == nil {
		globals = map[string]Object{}
	}
	return &Scope{
		locals:  map[string]Object{},
		data:    data,
		globals: globals,
	}
}

// NewScopeFromGo builds a root scope from native Go maps.
func NewScopeFromGo(data map[string]any, globals map[string]any) *Scope {
	d := make(map[string]Object, len(data))
	for k, v := range data {
		d[k] = FromGo(v)
	}
	g := make(map[string]Object, len(globals))
	for k, v := range globals {
		g[k] = FromGo(v)
	}
	return NewScope(d, g)
}

// WithLocal derives a scope with one additional local binding.
func (s *Scope) WithLocal(name string, value Object) *Scope {
	return &Scope{
		locals:  map[string]Object{name: value},
		parent:  s,
		data:    s.data,
		globals: s.globals,
	}
}

// WithLocals derives a scope with several additional local bindings.
func (s *Scope) WithLocals(bindings map[string]Object) *Scope {
	locals := make(map[string]Object, len(bindings))
	for k, v := range bindings {
		locals[k] = v
	}
	return &Scope{
		locals:  locals,
		parent:  s,
		data:    s.data,
		globals: s.globals,
	}
}

// WithGlobal derives a scope whose globals tier has one binding added or
// replaced. The parent's globals map is copied, not written.
func (s *Scope) WithGlobal(name string, value Object) *Scope {
	globals := make(map[string]Object, len(s.globals)+1)
	for k, v := range s.globals {
		globals[k] = v
	}
	globals[name] = value
	return &Scope{
		locals:  map[string]Object{},
		parent:  s,
		data:    s.data,
		globals: globals,
	}
}

// WithData derives an isolated scope whose data tier is exactly the given
// map and whose locals chain is empty. Globals are carried through. Used
// for component instantiation: the body sees only its resolved props.
func (s *Scope) WithData(data map[string]Object) *Scope {
	if data == nil {
		data = map[string]Object{}
	}
	return &Scope{
		locals:  map[string]Object{},
		data:    data,
		globals: s.globals,
	}
}

// Lookup resolves a name against the locals chain first, then the data
// tier. The second return reports whether the name was found at all.
func (s *Scope) Lookup(name string) (Object, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.locals[name]; ok {
			return v, true
		}
	}
	if v, ok := s.data[name]; ok {
		return v, true
	}
	return NULL, false
}

// LookupLocal resolves a name against the locals chain only.
func (s *Scope) LookupLocal(name string) (Object, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.locals[name]; ok {
			return v, true
		}
	}
	return NULL, false
}

// LookupGlobal resolves a name against the globals tier only.
func (s *Scope) LookupGlobal(name string) (Object, bool) {
	if v, ok := s.globals[name]; ok {
		return v, true
	}
	return NULL, false
}

// Data returns the data tier. Callers must treat it as read-only.
func (s *Scope) Data() map[string]Object { return s.data }

// Globals returns the globals tier. Callers must treat it as read-only.
func (s *Scope) Globals() map[string]Object { return s.globals }

// LocalNames returns every name bound in the locals chain, nearest binding
// first, without duplicates. Used by tooling to build scope maps.
func (s *Scope) LocalNames() []string {
	seen := map[string]bool{}
	var names []string
	for sc := s; sc != nil; sc = sc.parent {
		for k := range sc.locals {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	return names
}
