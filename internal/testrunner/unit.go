// Package testrunner discovers registered test units and runs them one at a
// time inside a lane, calling lifecycle hooks around each one.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/torosent/crankloop/internal/lane"
)

// ErrNothingToTest is returned when discovery or a whole run finds no test.
var ErrNothingToTest = errors.New("nothing to test")

// Func is the body of a test unit or one of its fixtures.
type Func func(ctx context.Context, lc *lane.Context) error

// Unit is one runnable test case.
type Unit struct {
	// Package is the dotted package path, for example "tests.api".
	Package string
	// Module groups units defined together, usually one file.
	Module string
	// Suite is the enclosing suite name; empty for free-standing tests.
	Suite       string
	Name        string
	File        string
	Description string

	Setup    Func
	Run      Func
	Teardown Func
}

// ID is the unit's dotted identifier, "package.module.Suite.name" with
// empty parts omitted. Discovery patterns match against it.
func (u Unit) ID() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{u.Package, u.Module, u.Suite, u.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Registry holds units in registration order.
type Registry struct {
	mu    sync.RWMutex
	units []Unit
	ids   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Register adds units. Every unit needs a name and a Run func, and IDs must
// be unique.
func (r *Registry) Register(units ...Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range units {
		if u.Name == "" {
			return errors.New("test unit name is required")
		}
		if u.Run == nil {
			return fmt.Errorf("test unit %s has no body", u.ID())
		}
		id := u.ID()
		if _, dup := r.ids[id]; dup {
			return fmt.Errorf("test unit %s registered twice", id)
		}
		r.ids[id] = struct{}{}
		r.units = append(r.units, u)
	}
	return nil
}

// Units returns every registered unit.
func (r *Registry) Units() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Unit(nil), r.units...)
}

// Discover returns the units selected by patterns in registration order.
// A pattern selects a unit when it equals the unit ID, is a dotted prefix of
// it, or matches it as a path.Match glob. No patterns selects everything.
func (r *Registry) Discover(patterns []string) ([]Unit, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("bad test pattern %q: %w", p, err)
		}
	}

	units := r.Units()
	if len(patterns) > 0 {
		selected := units[:0]
		for _, u := range units {
			if matchAny(u.ID(), patterns) {
				selected = append(selected, u)
			}
		}
		units = selected
	}
	if len(units) == 0 {
		return nil, ErrNothingToTest
	}
	return units, nil
}

func matchAny(id string, patterns []string) bool {
	for _, p := range patterns {
		if id == p || strings.HasPrefix(id, p+".") {
			return true
		}
		if ok, _ := path.Match(p, id); ok {
			return true
		}
	}
	return false
}
