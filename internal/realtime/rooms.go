package realtime

// Rooms tracks which connections joined which appointment channel. Like
// Registry it belongs to the hub loop.
type Rooms struct {
	members map[string]map[string]struct{} // room -> connection ids
	joined  map[string]map[string]struct{} // connection id -> rooms
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds connID to room. Joining twice is a no-op; the result reports
// whether membership changed.
func (r *Rooms) Join(connID, room string) bool {
	if _, ok := r.members[room][connID]; ok {
		return false
	}
	if r.members[room] == nil {
		r.members[room] = make(map[string]struct{})
	}
	r.members[room][connID] = struct{}{}

	if r.joined[connID] == nil {
		r.joined[connID] = make(map[string]struct{})
	}
	r.joined[connID][room] = struct{}{}
	return true
}

// LeaveAll drops connID from every room it joined.
func (r *Rooms) LeaveAll(connID string) {
	for room := range r.joined[connID] {
		delete(r.members[room], connID)
		if len(r.members[room]) == 0 {
			delete(r.members, room)
		}
	}
	delete(r.joined, connID)
}

func (r *Rooms) Members(room string) []string {
	out := make([]string, 0, len(r.members[room]))
	for id := range r.members[room] {
		out = append(out, id)
	}
	return out
}

func (r *Rooms) Size(room string) int {
	return len(r.members[room])
}
