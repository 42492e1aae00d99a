package service

// dupRing remembers the last n keys seen in one listing pass
type dupRing struct {
	keys []string
	set  map[string]int
	next int
}

func newDupRing(n int) *dupRing {
	if n <= 0 {
		n = 128
	}
	return &dupRing{keys: make([]string, 0, n), set: make(map[string]int, n)}
}

// Seen records key and reports whether it is already among the recent keys
func (r *dupRing) Seen(key string) bool {
	if _, ok := r.set[key]; ok {
		return true
	}
	if len(r.keys) < cap(r.keys) {
		r.keys = append(r.keys, key)
	} else {
		old := r.keys[r.next]
		if r.set[old]--; r.set[old] <= 0 {
			delete(r.set, old)
		}
		r.keys[r.next] = key
		r.next = (r.next + 1) % len(r.keys)
	}
	r.set[key]++
	return false
}
