// ABOUTME: Generic metadata-driven cell marking algorithm
// ABOUTME: Visits every traced slot of a cell in the order metadata lists them

package heap

import "strconv"

// MarkCell visits every traced slot of c with acc, in metadata order: fixed
// value fields first, then the variable array region. If the acceptor
// declares weak-marking capability and the cell's type has weak references,
// those are marked as well.
func MarkCell(c Cell, acc Acceptor) {
	MarkCellWithVTable(c, c.Header().VTable(), acc)
}

// MarkCellWithVTable is MarkCell for callers that already hold the vtable, or
// for cells whose header is not yet initialized.
func MarkCellWithVTable(c Cell, vt *VTable, acc Acceptor) {
	slots := c.Slots()
	for _, f := range vt.Meta.Values {
		acc.Accept(&slots[f.Index])
	}
	if arr := vt.Meta.Array; arr != nil {
		n := arr.Length(c)
		for i := arr.Start; i < arr.Start+n; i++ {
			acc.Accept(&slots[i])
		}
	}
	markWeakRefsIfNecessary(c, vt, acc)
}

// MarkCellWithinRange visits only the traced slots whose index lies in
// [begin, end). Used for incremental and partial scans; weak references are
// not visited by partial scans.
func MarkCellWithinRange(c Cell, vt *VTable, acc Acceptor, begin, end int) {
	slots := c.Slots()
	for _, f := range vt.Meta.Values {
		if f.Index >= begin && f.Index < end {
			acc.Accept(&slots[f.Index])
		}
	}
	if arr := vt.Meta.Array; arr != nil {
		lo := arr.Start
		hi := arr.Start + arr.Length(c)
		if lo < begin {
			lo = begin
		}
		if hi > end {
			hi = end
		}
		for i := lo; i < hi; i++ {
			acc.Accept(&slots[i])
		}
	}
}

// MarkCellWithNames visits every traced slot along with its metadata name.
// Meant for heap snapshots; array slots are named "field[i]".
func MarkCellWithNames(c Cell, acc NamedAcceptor) {
	vt := c.Header().VTable()
	slots := c.Slots()
	for _, f := range vt.Meta.Values {
		acc.AcceptNamed(&slots[f.Index], f.Name)
	}
	if arr := vt.Meta.Array; arr != nil {
		n := arr.Length(c)
		for i := 0; i < n; i++ {
			acc.AcceptNamed(&slots[arr.Start+i], arr.Name+"["+strconv.Itoa(i)+"]")
		}
	}
}

// markWeakRefsIfNecessary marks the cell's weak references when both the cell
// type has them and the acceptor declared the capability. The capability
// check is a single interface assertion per cell.
func markWeakRefsIfNecessary(c Cell, vt *VTable, acc Acceptor) {
	if vt.MarkWeak == nil {
		return
	}
	if weak, ok := acc.(WeakSlotAcceptor); ok {
		vt.MarkWeak(c, weak)
	}
}
