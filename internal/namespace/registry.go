/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package namespace

import (
	nlrm "github.com/launix-de/NonLockingReadMap"
)

// Registry is the catalog of namespace engines open on this node: read on
// every request, written only on namespace create/drop. That read-mostly,
// write-rare shape is exactly NonLockingReadMap's documented sweet spot, so
// Registry wraps it directly rather than a hand-rolled mutex-guarded map.
type Registry struct {
	entries nlrm.NonLockingReadMap[Namespace, string]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: nlrm.New[Namespace, string]()}
}

// Get looks up an open namespace by name.
func (r *Registry) Get(name string) (*Namespace, bool) {
	ns := r.entries.Get(name)
	if ns == nil {
		return nil, false
	}
	return ns, true
}

// Put registers (or replaces) a namespace engine under its own name.
func (r *Registry) Put(ns *Namespace) {
	r.entries.Set(ns)
}

// Remove drops a namespace from the registry, called after Namespace.Drop.
func (r *Registry) Remove(name string) {
	r.entries.Remove(name)
}

// List returns every currently-registered namespace, in no particular
// order (used by the health endpoint for a namespace count, and by startup
// recovery to iterate every engine once).
func (r *Registry) List() []*Namespace {
	return r.entries.GetAll()
}
