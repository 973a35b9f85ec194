package board

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

// Apply applies ev to b and returns the resulting board together with the
// event that undoes it. The inverse is nil when the event changed nothing or
// cannot be reversed (item.bootstrap, cursor.position).
//
// Apply never modifies b. Validation runs against the proposed result, so an
// error means no board was produced.
func Apply(b *Board, ev Event) (*Board, *Event, error) {
	if ev.BoardID != b.ID {
		return nil, nil, invalid(ev.Action, ev.BoardID, ErrWrongBoard)
	}
	switch ev.Action {
	case ActionItemAdd:
		return applyAdd(b, ev)
	case ActionItemUpdate:
		return applyUpdate(b, ev)
	case ActionItemMove:
		return applyMove(b, ev)
	case ActionItemDelete:
		return applyDelete(b, ev)
	case ActionItemFront:
		return applyFront(b, ev)
	case ActionItemZ:
		return applyZ(b, ev)
	case ActionFontIncrease:
		return applyFont(b, ev, fontFactor)
	case ActionFontDecrease:
		return applyFont(b, ev, 1/fontFactor)
	case ActionItemLock:
		return applyLock(b, ev, true)
	case ActionItemUnlock:
		return applyLock(b, ev, false)
	case ActionConnectionAdd:
		return applyConnectionAdd(b, ev)
	case ActionConnectionMod:
		return applyConnectionModify(b, ev)
	case ActionConnectionDel:
		return applyConnectionDelete(b, ev)
	case ActionRename:
		return applyRename(b, ev)
	case ActionSetAccessPolicy:
		return applyAccessPolicy(b, ev)
	case ActionBootstrap:
		return applyBootstrap(b, ev)
	case ActionCursor:
		return b, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
}

// ApplyEntry applies a confirmed history entry and moves the board serial to
// entry.Serial. In strict mode an entry that does not start at b.Serial+1 is
// rejected; otherwise the gap is logged and the entry applied anyway.
func ApplyEntry(b *Board, entry HistoryEntry, strict bool) (*Board, *Event, error) {
	if first := entry.first(); first != b.Serial+1 {
		if strict {
			return nil, nil, fmt.Errorf("%w: board %s at serial %d, entry starts at %d",
				ErrSerialMismatch, b.ID, b.Serial, first)
		}
		slog.Warn("history entry out of sequence",
			"board", b.ID, "serial", b.Serial, "firstSerial", first, "action", entry.Action)
	}
	next, inv, err := Apply(b, entry.Event)
	if err != nil {
		return nil, nil, err
	}
	if next == b {
		next = b.clone()
	}
	next.Serial = entry.Serial
	return next, inv, nil
}

// Replay applies unconfirmed events in order. The serial is left untouched.
func Replay(b *Board, events []Event) (*Board, error) {
	cur := b
	for _, ev := range events {
		next, _, err := Apply(cur, ev)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// ReplayEntries applies confirmed entries in order.
func ReplayEntries(b *Board, entries []HistoryEntry, strict bool) (*Board, error) {
	cur := b
	for _, e := range entries {
		next, _, err := ApplyEntry(cur, e, strict)
		if err != nil {
			return nil, fmt.Errorf("replay serial %d: %w", e.Serial, err)
		}
		cur = next
	}
	return cur, nil
}

func newInverse(b *Board, a Action) *Event {
	return &Event{Action: a, BoardID: b.ID}
}

// ---- items ----

func applyAdd(b *Board, ev Event) (*Board, *Event, error) {
	next := b.clone()
	for _, it := range ev.Items {
		if it.ID == "" {
			return nil, nil, invalid(ev.Action, it.ID, ErrItemNotFound)
		}
		if _, exists := next.Items[it.ID]; exists {
			return nil, nil, invalid(ev.Action, it.ID, ErrDuplicateID)
		}
		next.Items[it.ID] = it
	}
	for _, added := range ev.Items {
		dropDanglingContainer(next.Items, added.ID)
	}
	conns, err := addConnections(ev.Action, next, ev.Connections, ev.Indexes)
	if err != nil {
		return nil, nil, err
	}
	next.Connections = conns

	inv := newInverse(b, ActionItemDelete)
	for _, it := range ev.Items {
		inv.ItemIDs = append(inv.ItemIDs, it.ID)
	}
	for _, c := range ev.Connections {
		inv.ConnectionIDs = append(inv.ConnectionIDs, c.ID)
	}
	return next, inv, nil
}

// dropDanglingContainer clears the container reference of item id when it
// does not resolve to a container or would form a cycle. The item is kept.
func dropDanglingContainer(items map[string]Item, id string) {
	it := items[id]
	if it.ContainerID == "" {
		return
	}
	c, ok := items[it.ContainerID]
	if !ok || c.Type != ItemContainer || !containerChain(items, id, func(string) bool { return true }) {
		it.ContainerID = ""
		items[id] = it
	}
}

func applyUpdate(b *Board, ev Event) (*Board, *Event, error) {
	if len(ev.Patches) == 0 {
		return b, nil, nil
	}
	next := b.clone()
	inv := newInverse(b, ActionItemUpdate)
	for _, p := range ev.Patches {
		it, ok := next.Items[p.ID]
		if !ok {
			return nil, nil, invalid(ev.Action, p.ID, ErrItemNotFound)
		}
		old := ItemPatch{ID: p.ID}
		if p.Text != nil {
			old.Text, it.Text = ptr(it.Text), *p.Text
		}
		if p.Color != nil {
			old.Color, it.Color = ptr(it.Color), *p.Color
		}
		if p.Width != nil {
			old.Width, it.Width = ptr(it.Width), *p.Width
		}
		if p.Height != nil {
			old.Height, it.Height = ptr(it.Height), *p.Height
		}
		if p.FontSize != nil {
			old.FontSize, it.FontSize = ptr(it.FontSize), *p.FontSize
		}
		if p.AssetID != nil {
			old.AssetID, it.AssetID = ptr(it.AssetID), *p.AssetID
		}
		next.Items[p.ID] = it
		inv.Patches = append(inv.Patches, old)
	}
	// Later patches to the same id must be undone first.
	slices.Reverse(inv.Patches)
	return next, inv, nil
}

func applyMove(b *Board, ev Event) (*Board, *Event, error) {
	if len(ev.Moves) == 0 {
		return b, nil, nil
	}
	named := make(map[string]ItemMove, len(ev.Moves))
	for _, m := range ev.Moves {
		if _, dup := named[m.ID]; dup {
			return nil, nil, invalid(ev.Action, m.ID, ErrDuplicateID)
		}
		if _, ok := b.Items[m.ID]; !ok {
			return nil, nil, invalid(ev.Action, m.ID, ErrItemNotFound)
		}
		named[m.ID] = m
	}

	next := b.clone()
	deltas := make(map[string]Point, len(b.Items))
	for id, m := range named {
		it := b.Items[id]
		deltas[id] = Point{X: m.X - it.X, Y: m.Y - it.Y}
	}
	// Items inside a moved container follow their nearest named ancestor.
	for id, it := range b.Items {
		if _, ok := named[id]; ok {
			continue
		}
		var d Point
		found := false
		containerChain(b.Items, id, func(anc string) bool {
			if _, ok := named[anc]; ok {
				d, found = deltas[anc], true
				return false
			}
			return true
		})
		if !found || d == (Point{}) {
			continue
		}
		it.X += d.X
		it.Y += d.Y
		next.Items[id] = it
		deltas[id] = d
	}
	for id, m := range named {
		it := next.Items[id]
		it.X, it.Y, it.ContainerID = m.X, m.Y, m.ContainerID
		next.Items[id] = it
	}
	for id, m := range named {
		if m.ContainerID == "" {
			continue
		}
		c, ok := next.Items[m.ContainerID]
		if !ok || c.Type != ItemContainer {
			return nil, nil, invalid(ev.Action, id, ErrInvalidContainer)
		}
		if !containerChain(next.Items, id, func(string) bool { return true }) {
			return nil, nil, invalid(ev.Action, id, ErrInvalidContainer)
		}
	}

	for i, c := range next.Connections {
		if rc, ok := reroute(c, next.Items, deltas); ok {
			next.Connections[i] = rc
		}
	}
	for _, pin := range ev.Connections {
		_, idx, ok := next.Connection(pin.ID)
		if !ok {
			return nil, nil, invalid(ev.Action, pin.ID, ErrConnectionNotFound)
		}
		if err := checkEndpoints(ev.Action, next.Items, pin); err != nil {
			return nil, nil, err
		}
		next.Connections[idx] = pin
	}

	// The inverse names every item that was named or displaced, with exact
	// previous values, and pins every connection whose geometry changed.
	inv := newInverse(b, ActionItemMove)
	for id, it := range b.Items {
		after := next.Items[id]
		_, wasNamed := named[id]
		if wasNamed || after.X != it.X || after.Y != it.Y || after.ContainerID != it.ContainerID {
			inv.Moves = append(inv.Moves, ItemMove{ID: id, X: it.X, Y: it.Y, ContainerID: it.ContainerID})
		}
	}
	sort.Slice(inv.Moves, func(i, j int) bool { return inv.Moves[i].ID < inv.Moves[j].ID })
	for i, c := range b.Connections {
		if !c.equal(next.Connections[i]) {
			inv.Connections = append(inv.Connections, c)
		}
	}
	return next, inv, nil
}

// reroute recomputes a connection's geometry after items moved by deltas.
// When every anchored endpoint (and the enclosing container, if any) moved by
// the same delta the connection is carried along verbatim; a partial move
// re-derives the control points on the line between the new endpoints.
func reroute(c Connection, items map[string]Item, deltas map[string]Point) (Connection, bool) {
	var d Point
	have := false
	if c.ContainerID != "" {
		d, have = deltas[c.ContainerID]
	}
	movedEnd := false
	carried := true
	for _, e := range []Endpoint{c.From, c.To} {
		if !e.anchored() {
			if c.ContainerID == "" || !have {
				carried = false
			}
			continue
		}
		ed, ok := deltas[e.ItemID]
		if !ok {
			carried = false
			continue
		}
		movedEnd = true
		if !have {
			d, have = ed, true
		} else if ed != d {
			carried = false
		}
	}
	if !movedEnd && !(have && c.ContainerID != "") {
		return c, false
	}
	if carried && have {
		c.From = translateEndpoint(c.From, d)
		c.To = translateEndpoint(c.To, d)
		if len(c.ControlPoints) > 0 {
			pts := make([]Point, len(c.ControlPoints))
			for i, p := range c.ControlPoints {
				pts[i] = Point{X: p.X + d.X, Y: p.Y + d.Y}
			}
			c.ControlPoints = pts
		}
		return c, true
	}
	if len(c.ControlPoints) == 0 {
		return c, false
	}
	from, to := endpointPos(c.From, items), endpointPos(c.To, items)
	n := len(c.ControlPoints)
	pts := make([]Point, n)
	for i := range pts {
		t := float64(i+1) / float64(n+1)
		pts[i] = Point{X: from.X + (to.X-from.X)*t, Y: from.Y + (to.Y-from.Y)*t}
	}
	c.ControlPoints = pts
	return c, true
}

func translateEndpoint(e Endpoint, d Point) Endpoint {
	if e.anchored() {
		return e
	}
	e.X += d.X
	e.Y += d.Y
	return e
}

func endpointPos(e Endpoint, items map[string]Item) Point {
	if it, ok := items[e.ItemID]; e.anchored() && ok {
		return it.center()
	}
	return Point{X: e.X, Y: e.Y}
}

func applyDelete(b *Board, ev Event) (*Board, *Event, error) {
	deleted := make(map[string]bool, len(ev.ItemIDs))
	for _, id := range ev.ItemIDs {
		if _, ok := b.Items[id]; !ok {
			return nil, nil, invalid(ev.Action, id, ErrItemNotFound)
		}
		deleted[id] = true
	}
	for id := range b.Items {
		if deleted[id] {
			continue
		}
		containerChain(b.Items, id, func(anc string) bool {
			if deleted[anc] {
				deleted[id] = true
				return false
			}
			return true
		})
	}
	explicit := make(map[string]bool, len(ev.ConnectionIDs))
	for _, id := range ev.ConnectionIDs {
		if _, _, ok := b.Connection(id); !ok {
			return nil, nil, invalid(ev.Action, id, ErrConnectionNotFound)
		}
		explicit[id] = true
	}
	if len(deleted) == 0 && len(explicit) == 0 {
		return b, nil, nil
	}

	next := b.clone()
	inv := newInverse(b, ActionItemAdd)
	for id := range deleted {
		inv.Items = append(inv.Items, b.Items[id])
		delete(next.Items, id)
	}
	sort.Slice(inv.Items, func(i, j int) bool { return inv.Items[i].ID < inv.Items[j].ID })

	kept := make([]Connection, 0, len(b.Connections))
	for i, c := range b.Connections {
		if explicit[c.ID] || deleted[c.From.ItemID] || deleted[c.To.ItemID] || deleted[c.ContainerID] {
			inv.Connections = append(inv.Connections, c)
			if inv.Indexes == nil {
				inv.Indexes = map[string]int{}
			}
			inv.Indexes[c.ID] = i
			continue
		}
		kept = append(kept, c)
	}
	next.Connections = nilIfEmpty(kept)
	return next, inv, nil
}

func applyFront(b *Board, ev Event) (*Board, *Event, error) {
	requested := map[string]bool{}
	for _, id := range ev.ItemIDs {
		it, ok := b.Items[id]
		if !ok {
			return nil, nil, invalid(ev.Action, id, ErrItemNotFound)
		}
		if it.Type != ItemContainer {
			requested[id] = true
		}
	}
	if len(requested) == 0 {
		return b, nil, nil
	}
	maxZ, first := 0, true
	for _, it := range b.Items {
		if it.Type == ItemContainer {
			continue
		}
		if first || it.Z > maxZ {
			maxZ, first = it.Z, false
		}
	}
	alreadyTop := true
	for id, it := range b.Items {
		if it.Type == ItemContainer {
			continue
		}
		if (it.Z == maxZ) != requested[id] {
			alreadyTop = false
			break
		}
	}
	if alreadyTop {
		return b, nil, nil
	}
	next := b.clone()
	inv := newInverse(b, ActionItemZ)
	inv.Z = make(map[string]int, len(requested))
	for id := range requested {
		it := next.Items[id]
		inv.Z[id] = it.Z
		it.Z = maxZ + 1
		next.Items[id] = it
	}
	return next, inv, nil
}

func applyZ(b *Board, ev Event) (*Board, *Event, error) {
	if len(ev.Z) == 0 {
		return b, nil, nil
	}
	next := b.clone()
	inv := newInverse(b, ActionItemZ)
	inv.Z = make(map[string]int, len(ev.Z))
	for id, z := range ev.Z {
		it, ok := next.Items[id]
		if !ok {
			return nil, nil, invalid(ev.Action, id, ErrItemNotFound)
		}
		inv.Z[id] = it.Z
		it.Z = z
		next.Items[id] = it
	}
	return next, inv, nil
}

// applyFont scales the font of text-bearing items. The inverse restores the
// exact previous sizes, which a reverse scaling would not do in floating
// point.
func applyFont(b *Board, ev Event, factor float64) (*Board, *Event, error) {
	var next *Board
	inv := newInverse(b, ActionItemUpdate)
	seen := map[string]bool{}
	for _, id := range ev.ItemIDs {
		it, ok := b.Items[id]
		if !ok {
			return nil, nil, invalid(ev.Action, id, ErrItemNotFound)
		}
		if seen[id] || !it.Type.textBearing() {
			continue
		}
		seen[id] = true
		if next == nil {
			next = b.clone()
		}
		size := it.FontSize
		if size == 0 {
			size = DefaultFontSize
		}
		inv.Patches = append(inv.Patches, ItemPatch{ID: id, FontSize: ptr(it.FontSize)})
		it.FontSize = size * factor
		next.Items[id] = it
	}
	if next == nil {
		return b, nil, nil
	}
	return next, inv, nil
}

func applyLock(b *Board, ev Event, locked bool) (*Board, *Event, error) {
	var next *Board
	opposite := ActionItemUnlock
	if !locked {
		opposite = ActionItemLock
	}
	inv := newInverse(b, opposite)
	for _, id := range ev.ItemIDs {
		it, ok := b.Items[id]
		if !ok {
			return nil, nil, invalid(ev.Action, id, ErrItemNotFound)
		}
		if next == nil {
			next = b.clone()
		}
		if cur := next.Items[id]; cur.Locked == locked {
			continue
		}
		it.Locked = locked
		next.Items[id] = it
		inv.ItemIDs = append(inv.ItemIDs, id)
	}
	if len(inv.ItemIDs) == 0 {
		return b, nil, nil
	}
	return next, inv, nil
}

// ---- connections ----

func checkEndpoints(a Action, items map[string]Item, c Connection) error {
	for _, e := range []Endpoint{c.From, c.To} {
		if !e.anchored() {
			continue
		}
		if _, ok := items[e.ItemID]; !ok {
			return invalid(a, c.ID, fmt.Errorf("%w: %s", ErrDanglingEndpoint, e.ItemID))
		}
	}
	return nil
}

// addConnections validates conns against next.Items and returns the new
// connection list. Connections listed in indexes are inserted at that
// position (ascending), the rest appended.
func addConnections(a Action, next *Board, conns []Connection, indexes map[string]int) ([]Connection, error) {
	if len(conns) == 0 {
		return next.Connections, nil
	}
	ids := make(map[string]bool, len(next.Connections)+len(conns))
	for _, c := range next.Connections {
		ids[c.ID] = true
	}
	type placed struct {
		at int
		c  Connection
	}
	var positioned []placed
	var tail []Connection
	for _, c := range conns {
		if c.ID == "" || ids[c.ID] {
			return nil, invalid(a, c.ID, ErrDuplicateID)
		}
		ids[c.ID] = true
		if err := checkEndpoints(a, next.Items, c); err != nil {
			return nil, err
		}
		if c.ContainerID != "" {
			if ct, ok := next.Items[c.ContainerID]; !ok || ct.Type != ItemContainer {
				c.ContainerID = ""
			}
		}
		if at, ok := indexes[c.ID]; ok {
			positioned = append(positioned, placed{at: at, c: c})
		} else {
			tail = append(tail, c)
		}
	}
	out := slices.Clone(next.Connections)
	sort.SliceStable(positioned, func(i, j int) bool { return positioned[i].at < positioned[j].at })
	for _, p := range positioned {
		at := min(max(p.at, 0), len(out))
		out = slices.Insert(out, at, p.c)
	}
	return append(out, tail...), nil
}

func applyConnectionAdd(b *Board, ev Event) (*Board, *Event, error) {
	if len(ev.Connections) == 0 {
		return b, nil, nil
	}
	next := b.clone()
	conns, err := addConnections(ev.Action, next, ev.Connections, ev.Indexes)
	if err != nil {
		return nil, nil, err
	}
	next.Connections = conns
	inv := newInverse(b, ActionConnectionDel)
	for _, c := range ev.Connections {
		inv.ConnectionIDs = append(inv.ConnectionIDs, c.ID)
	}
	return next, inv, nil
}

func applyConnectionModify(b *Board, ev Event) (*Board, *Event, error) {
	if len(ev.Connections) == 0 {
		return b, nil, nil
	}
	next := b.clone()
	inv := newInverse(b, ActionConnectionMod)
	seen := map[string]bool{}
	for _, c := range ev.Connections {
		if seen[c.ID] {
			return nil, nil, invalid(ev.Action, c.ID, ErrDuplicateID)
		}
		seen[c.ID] = true
		old, idx, ok := next.Connection(c.ID)
		if !ok {
			return nil, nil, invalid(ev.Action, c.ID, ErrConnectionNotFound)
		}
		if err := checkEndpoints(ev.Action, next.Items, c); err != nil {
			return nil, nil, err
		}
		if c.ContainerID != "" {
			if ct, ok := next.Items[c.ContainerID]; !ok || ct.Type != ItemContainer {
				return nil, nil, invalid(ev.Action, c.ID, ErrInvalidContainer)
			}
		}
		next.Connections[idx] = c
		inv.Connections = append(inv.Connections, old)
	}
	return next, inv, nil
}

func applyConnectionDelete(b *Board, ev Event) (*Board, *Event, error) {
	if len(ev.ConnectionIDs) == 0 {
		return b, nil, nil
	}
	remove := make(map[string]bool, len(ev.ConnectionIDs))
	for _, id := range ev.ConnectionIDs {
		if _, _, ok := b.Connection(id); !ok {
			return nil, nil, invalid(ev.Action, id, ErrConnectionNotFound)
		}
		remove[id] = true
	}
	next := b.clone()
	inv := newInverse(b, ActionConnectionAdd)
	inv.Indexes = make(map[string]int, len(remove))
	kept := make([]Connection, 0, len(b.Connections))
	for i, c := range b.Connections {
		if remove[c.ID] {
			inv.Connections = append(inv.Connections, c)
			inv.Indexes[c.ID] = i
			continue
		}
		kept = append(kept, c)
	}
	next.Connections = nilIfEmpty(kept)
	return next, inv, nil
}

// ---- board ----

func applyRename(b *Board, ev Event) (*Board, *Event, error) {
	if ev.Name == b.Name {
		return b, nil, nil
	}
	next := b.clone()
	next.Name = ev.Name
	inv := newInverse(b, ActionRename)
	inv.Name = b.Name
	return next, inv, nil
}

func applyAccessPolicy(b *Board, ev Event) (*Board, *Event, error) {
	next := b.clone()
	next.AccessPolicy = ev.AccessPolicy
	inv := newInverse(b, ActionSetAccessPolicy)
	inv.AccessPolicy = b.AccessPolicy
	return next, inv, nil
}

func applyBootstrap(b *Board, ev Event) (*Board, *Event, error) {
	next := b.clone()
	next.Items = make(map[string]Item, len(ev.Items))
	for _, it := range ev.Items {
		if _, dup := next.Items[it.ID]; dup {
			return nil, nil, invalid(ev.Action, it.ID, ErrDuplicateID)
		}
		next.Items[it.ID] = it
	}
	for _, it := range ev.Items {
		dropDanglingContainer(next.Items, it.ID)
	}
	for _, c := range ev.Connections {
		if err := checkEndpoints(ev.Action, next.Items, c); err != nil {
			return nil, nil, err
		}
	}
	next.Connections = nilIfEmpty(slices.Clone(ev.Connections))
	return next, nil, nil
}
