// ABOUTME: Handle scopes: rooted, collector-updated indirections to cells
// ABOUTME: The only safe way to hold a cell reference across an allocating call

package heap

// Handle is a rooted indirection to a value. The slot it wraps is registered
// with the collector, so the value stays alive and its address is rewritten
// when the referent moves. Raw Addresses, by contrast, are invalidated by any
// call that may allocate.
type Handle struct {
	slot *Value
}

// Value returns the current (collector-maintained) value.
func (h Handle) Value() Value { return *h.slot }

// Cell resolves the handle to its cell.
func (h Handle) Cell(gc Collector) Cell {
	return gc.Lookup(h.Value().Object())
}

// MutableHandle is a Handle whose slot may be reassigned, for operations that
// replace the cell they operate on (for example, container reallocation).
type MutableHandle struct {
	Handle
}

// Set replaces the handle's value.
func (h *MutableHandle) Set(v Value) { *h.slot = v }

// HandleScope owns a group of handles with stack discipline. Scopes must be
// closed in reverse creation order; closing unroots every handle created in
// the scope.
type HandleScope struct {
	base  *GCBase
	prev  *HandleScope
	slots []*Value
}

// NewHandleScope pushes a fresh scope.
func (gc *GCBase) NewHandleScope() *HandleScope {
	s := &HandleScope{base: gc, prev: gc.topScope}
	gc.topScope = s
	return s
}

// Close pops the scope. It must be the most recently opened one.
func (s *HandleScope) Close() {
	assert(s.base.topScope == s, "handle scopes closed out of order")
	s.base.topScope = s.prev
	s.slots = nil
}

// Handle roots v in this scope.
func (s *HandleScope) Handle(v Value) Handle {
	slot := new(Value)
	*slot = v
	s.slots = append(s.slots, slot)
	return Handle{slot: slot}
}

// MutableHandle roots v in this scope with a reassignable handle.
func (s *HandleScope) MutableHandle(v Value) *MutableHandle {
	return &MutableHandle{Handle: s.Handle(v)}
}

// markHandles visits every live handle slot as a root. Each slot is visited
// exactly once per pass, which the pointer-update phase relies on.
func (gc *GCBase) markHandles(acc RootAcceptor) {
	acc.BeginRootSection(RootSectionGCScopes)
	for s := gc.topScope; s != nil; s = s.prev {
		for _, slot := range s.slots {
			acc.Accept(slot)
		}
	}
	acc.EndRootSection()
}
