package engine

import "fmt"

type binding struct {
	value    any
	constant bool
}

// Scope holds the bindings of one run. Scripts have no nested blocks or
// functions, so there is no parent chain.
type Scope struct {
	vars map[string]*binding
}

func NewScope() *Scope {
	return &Scope{vars: make(map[string]*binding)}
}

// Declare introduces a new binding. Redeclaring a name is an error, as it is
// for JS lexical declarations.
func (s *Scope) Declare(name string, val any, constant bool) error {
	if _, exists := s.vars[name]; exists {
		return fmt.Errorf("identifier '%s' has already been declared", name)
	}
	s.vars[name] = &binding{value: val, constant: constant}
	return nil
}

func (s *Scope) Get(name string) (any, bool) {
	b, ok := s.vars[name]
	if !ok {
		return nil, false
	}
	return b.value, true
}

func (s *Scope) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Assign updates an existing non-constant binding.
func (s *Scope) Assign(name string, val any) error {
	b, ok := s.vars[name]
	switch {
	case !ok:
		return fmt.Errorf("'%s' is not declared", name)
	case b.constant:
		return fmt.Errorf("assignment to constant variable '%s'", name)
	}
	b.value = val
	return nil
}
