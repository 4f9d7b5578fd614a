package models

import (
	"fmt"
	"sort"

	"github.com/san-kum/odesens/internal/ode"
)

type Registry struct {
	models map[string]func() Model
}

func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]func() Model)}

	r.models["decay"] = func() Model { return NewDecay() }
	r.models["lotka_volterra"] = func() Model { return NewLotkaVolterra() }
	r.models["vanderpol"] = func() Model { return NewVanDerPol() }
	r.models["lorenz"] = func() Model { return NewLorenz() }

	return r
}

func (r *Registry) Get(name string) (Model, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q (have %v)", ode.ErrNotFound, name, r.List())
	}
	return fn(), nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Problem assembles the model's default problem.
func (r *Registry) Problem(name string) (ode.Problem, Model, error) {
	m, err := r.Get(name)
	if err != nil {
		return ode.Problem{}, nil, err
	}
	t0, tf := m.DefaultSpan()
	return ode.Problem{Sys: m, U0: m.DefaultState(), P: m.DefaultParams(), T0: t0, TF: tf}, m, nil
}
