package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/gatekit/gatekit/internal/model"
)

// snapshot is one immutable published contract set.
type snapshot struct {
	byKey   map[model.GateKey]*model.GateContract
	byState map[string]*model.GateContract
}

// Registry is the read-only catalog of gate contracts. Lookups hit the
// current snapshot; Swap replaces the whole snapshot at once, so an
// in-flight evaluation keeps whatever contract it already resolved.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// New builds a registry from an initial contract set.
func New(contracts []*model.GateContract) (*Registry, error) {
	r := &Registry{}
	if err := r.Swap(contracts); err != nil {
		return nil, err
	}
	return r, nil
}

// Swap atomically publishes a new contract set, replacing the previous one.
func (r *Registry) Swap(contracts []*model.GateContract) error {
	snap := &snapshot{
		byKey:   make(map[model.GateKey]*model.GateContract, len(contracts)),
		byState: make(map[string]*model.GateContract, len(contracts)),
	}
	for _, c := range contracts {
		if _, dup := snap.byKey[c.Key()]; dup {
			return fmt.Errorf("duplicate gate %s@%s", c.GateID, c.Version)
		}
		if _, dup := snap.byState[c.EntryState]; dup {
			return fmt.Errorf("duplicate entry state %s", c.EntryState)
		}
		snap.byKey[c.Key()] = c
		snap.byState[c.EntryState] = c
	}
	r.snap.Store(snap)
	return nil
}

// Resolve looks a contract up by exact (gate_id, version). There is no
// fuzzy or latest-version resolution; a miss is registry/project drift.
func (r *Registry) Resolve(gateID, version string) (*model.GateContract, error) {
	c, ok := r.snap.Load().byKey[model.GateKey{GateID: gateID, Version: version}]
	if !ok {
		return nil, fmt.Errorf("gate %s@%s: %w", gateID, version, model.ErrGateNotFound)
	}
	return c, nil
}

// GateForState returns the contract guarding the given project state, if
// one is configured. States with no gate are terminal.
func (r *Registry) GateForState(state string) (*model.GateContract, bool) {
	c, ok := r.snap.Load().byState[state]
	return c, ok
}

// ActiveGateFor resolves the gate a project currently points at. The
// registry never second-guesses the project's own pointer.
func (r *Registry) ActiveGateFor(p *model.Project) (*model.GateContract, error) {
	return r.Resolve(p.CurrentGateID, p.CurrentGateVersion)
}

// Len reports the number of published contracts.
func (r *Registry) Len() int {
	return len(r.snap.Load().byKey)
}
