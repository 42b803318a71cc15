package repository

import (
	"sync"

	"github.com/aiqsync/datasync/internal/document"
)

// keyspace is the two-level tenant tree (organization -> solution -> documents)
// backing MemoryRepo. Each level has its own lock, so tenants only contend
// when one of them creates or removes an organization entry.
//
// Lock order is keyspace.mu, organization.mu, scope.mu.
type keyspace struct {
	mu   sync.RWMutex
	orgs map[string]*organization
}

type organization struct {
	mu        sync.Mutex
	solutions map[string]*scope
	// detached is set once the organization has been pruned from the keyspace.
	detached bool
}

// scope holds the documents of one tenant.
type scope struct {
	mu   sync.RWMutex
	docs map[string]document.Document
	// detached is set (under mu) once the scope has been pruned; writers that
	// observe it must resolve the tenant again.
	detached bool
}

func newKeyspace() *keyspace {
	return &keyspace{orgs: make(map[string]*organization)}
}

func newScope() *scope {
	return &scope{docs: make(map[string]document.Document)}
}

// Resolve returns the scope registered for t. When none exists it returns a
// fresh, unregistered empty scope and existed=false; read paths use that to
// answer without touching the tree.
func (k *keyspace) Resolve(t document.Tenant) (s *scope, existed bool) {
	k.mu.RLock()
	org := k.orgs[t.Organization]
	k.mu.RUnlock()
	if org == nil {
		return newScope(), false
	}

	org.mu.Lock()
	s = org.solutions[t.Solution]
	org.mu.Unlock()
	if s == nil {
		return newScope(), false
	}
	return s, true
}

// Ensure returns the scope for t, registering the organization and solution
// levels as needed. The returned scope may still be pruned before the caller
// locks it; callers check detached under the scope lock.
func (k *keyspace) Ensure(t document.Tenant) *scope {
	for {
		org := k.ensureOrganization(t.Organization)

		org.mu.Lock()
		if org.detached {
			org.mu.Unlock()
			continue
		}
		s := org.solutions[t.Solution]
		if s == nil {
			s = newScope()
			org.solutions[t.Solution] = s
		}
		org.mu.Unlock()
		return s
	}
}

func (k *keyspace) ensureOrganization(name string) *organization {
	k.mu.RLock()
	org := k.orgs[name]
	k.mu.RUnlock()
	if org != nil {
		return org
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if org = k.orgs[name]; org == nil {
		org = &organization{solutions: make(map[string]*scope)}
		k.orgs[name] = org
	}
	return org
}

// Prune removes the solution entry of t if its scope is empty, then the
// organization entry if that leaves it without solutions. Emptiness is
// re-checked under the locks, so a concurrent insert is never dropped.
// keyspace.mu is only write-locked to remove an organization entry.
func (k *keyspace) Prune(t document.Tenant) {
	k.mu.RLock()
	org := k.orgs[t.Organization]
	k.mu.RUnlock()
	if org == nil {
		return
	}

	org.mu.Lock()
	if org.detached {
		org.mu.Unlock()
		return
	}
	if s := org.solutions[t.Solution]; s != nil {
		s.mu.Lock()
		if len(s.docs) == 0 {
			s.detached = true
			delete(org.solutions, t.Solution)
		}
		s.mu.Unlock()
	}
	empty := len(org.solutions) == 0
	org.mu.Unlock()
	if !empty {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.orgs[t.Organization] != org {
		return
	}
	org.mu.Lock()
	defer org.mu.Unlock()
	// a solution may have been registered while no lock was held
	if !org.detached && len(org.solutions) == 0 {
		org.detached = true
		delete(k.orgs, t.Organization)
	}
}

// Tenants lists every registered tenant scope.
func (k *keyspace) Tenants() []document.Tenant {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []document.Tenant
	for orgName, org := range k.orgs {
		org.mu.Lock()
		for sol := range org.solutions {
			out = append(out, document.Tenant{Organization: orgName, Solution: sol})
		}
		org.mu.Unlock()
	}
	return out
}
