package realtime

import "sort"

// Registry maps live connection ids to the user they registered as. It is
// owned by the hub loop and is not safe for concurrent use.
type Registry struct {
	entries map[string]registryEntry
	seq     uint64
}

type registryEntry struct {
	PresenceEntry
	seq uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register upserts the entry for connID. A re-registration keeps the
// connection's original position in List.
func (r *Registry) Register(connID, userID, username string) {
	e, ok := r.entries[connID]
	if !ok {
		r.seq++
		e.seq = r.seq
	}
	e.PresenceEntry = PresenceEntry{ID: connID, UserID: userID, Username: username}
	r.entries[connID] = e
}

// Unregister removes connID and reports whether it was registered.
func (r *Registry) Unregister(connID string) bool {
	if _, ok := r.entries[connID]; !ok {
		return false
	}
	delete(r.entries, connID)
	return true
}

func (r *Registry) Lookup(connID string) (PresenceEntry, bool) {
	e, ok := r.entries[connID]
	return e.PresenceEntry, ok
}

// List returns all entries in registration order.
func (r *Registry) List() []PresenceEntry {
	ordered := make([]registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]PresenceEntry, len(ordered))
	for i, e := range ordered {
		out[i] = e.PresenceEntry
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.entries)
}
