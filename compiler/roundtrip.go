package compiler

// roundTrip is an append-only store mapping keys to dense indices and back.
// It backs both local variable scopes (name -> register) and the symbol
// table (symbol -> slot). Truncate discards the newest keys when a block
// scope ends.
type roundTrip[K comparable] struct {
	keys  []K
	index map[K]int
}

func newRoundTrip[K comparable]() *roundTrip[K] {
	return &roundTrip[K]{index: make(map[K]int)}
}

// Add appends k and returns its index. k must not be present.
func (rt *roundTrip[K]) Add(k K) int {
	i := len(rt.keys)
	rt.keys = append(rt.keys, k)
	rt.index[k] = i
	return i
}

// Intern returns the index of k, adding it first if needed.
func (rt *roundTrip[K]) Intern(k K) int {
	if i, ok := rt.index[k]; ok {
		return i
	}
	return rt.Add(k)
}

// Lookup returns the index of k.
func (rt *roundTrip[K]) Lookup(k K) (int, bool) {
	i, ok := rt.index[k]
	return i, ok
}

// At returns the key stored at index i.
func (rt *roundTrip[K]) At(i int) K { return rt.keys[i] }

// Len returns the number of keys.
func (rt *roundTrip[K]) Len() int { return len(rt.keys) }

// Truncate drops every key with index n or higher.
func (rt *roundTrip[K]) Truncate(n int) {
	for _, k := range rt.keys[n:] {
		delete(rt.index, k)
	}
	rt.keys = rt.keys[:n]
}
