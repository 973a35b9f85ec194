package board

// Fold merges two consecutive events from the same actor into one when
// applying the result alone is observably the same as applying a then b.
// It reports false when no such merge exists. Callers are responsible for
// only offering events from one actor.
func Fold(a, b Event) (Event, bool) {
	if a.BoardID != b.BoardID {
		return Event{}, false
	}
	switch {
	case a.Action == ActionCursor && b.Action == ActionCursor:
		return b, true

	case a.Action == ActionItemMove && b.Action == ActionItemMove:
		return foldMoves(a, b)

	case a.Action == ActionItemUpdate && b.Action == ActionItemUpdate:
		if !sameSet(patchIDs(a.Patches), patchIDs(b.Patches)) {
			return Event{}, false
		}
		merged := b
		merged.Patches = mergePatches(a.Patches, b.Patches)
		return merged, true

	case a.Action == ActionItemFront && b.Action == ActionItemFront:
		return b, sameSet(a.ItemIDs, b.ItemIDs)

	case a.Action == ActionItemZ && b.Action == ActionItemZ:
		return b, sameSet(mapKeys(a.Z), mapKeys(b.Z))

	case isLockAction(a.Action) && isLockAction(b.Action):
		return b, sameSet(a.ItemIDs, b.ItemIDs)

	case a.Action == ActionConnectionMod && b.Action == ActionConnectionMod:
		return b, sameSet(connectionIDs(a.Connections), connectionIDs(b.Connections))

	case a.Action == ActionConnectionMod && b.Action == ActionConnectionDel:
		return b, sameSet(connectionIDs(a.Connections), b.ConnectionIDs)

	case a.Action == ActionItemAdd && (b.Action == ActionItemUpdate || b.Action == ActionItemMove):
		return foldIntoAdd(a, b)
	}
	return Event{}, false
}

func isLockAction(a Action) bool {
	return a == ActionItemLock || a == ActionItemUnlock
}

// foldMoves keeps b's absolute targets. Pinned connection geometry from a
// survives unless b pins the same connection; a pinned a followed by an
// unpinned b is not merged because b would reroute from the pinned shape.
func foldMoves(a, b Event) (Event, bool) {
	if !sameSet(moveIDs(a.Moves), moveIDs(b.Moves)) {
		return Event{}, false
	}
	if len(a.Connections) > 0 && len(b.Connections) == 0 {
		return Event{}, false
	}
	merged := b
	if len(a.Connections) > 0 {
		pinned := map[string]bool{}
		for _, c := range b.Connections {
			pinned[c.ID] = true
		}
		conns := append([]Connection(nil), b.Connections...)
		for _, c := range a.Connections {
			if !pinned[c.ID] {
				conns = append(conns, c)
			}
		}
		merged.Connections = conns
	}
	return merged, true
}

func mergePatches(a, b []ItemPatch) []ItemPatch {
	var order []string
	byID := map[string]ItemPatch{}
	for _, p := range append(append([]ItemPatch(nil), a...), b...) {
		cur, ok := byID[p.ID]
		if !ok {
			order = append(order, p.ID)
			cur = ItemPatch{ID: p.ID}
		}
		byID[p.ID] = cur.overlay(p)
	}
	out := make([]ItemPatch, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// foldIntoAdd rewrites an item.add so that it already carries the values a
// following update or move of exactly the added items would produce. The
// follow-up is simulated on a scratch copy of the added items.
func foldIntoAdd(add, b Event) (Event, bool) {
	addIDs := make([]string, 0, len(add.Items))
	scratch := make(map[string]Item, len(add.Items))
	for _, it := range add.Items {
		addIDs = append(addIDs, it.ID)
		scratch[it.ID] = it
	}
	if len(scratch) != len(add.Items) {
		return Event{}, false
	}

	switch b.Action {
	case ActionItemUpdate:
		if !sameSet(addIDs, patchIDs(b.Patches)) {
			return Event{}, false
		}
		for _, p := range b.Patches {
			it := scratch[p.ID]
			if p.Text != nil {
				it.Text = *p.Text
			}
			if p.Color != nil {
				it.Color = *p.Color
			}
			if p.Width != nil {
				it.Width = *p.Width
			}
			if p.Height != nil {
				it.Height = *p.Height
			}
			if p.FontSize != nil {
				it.FontSize = *p.FontSize
			}
			if p.AssetID != nil {
				it.AssetID = *p.AssetID
			}
			scratch[p.ID] = it
		}

	case ActionItemMove:
		// Connections in the add would need rerouting against items outside
		// the batch, which the scratch copy does not know.
		if len(add.Connections) > 0 || len(b.Connections) > 0 {
			return Event{}, false
		}
		if !sameSet(addIDs, moveIDs(b.Moves)) || len(b.Moves) != len(addIDs) {
			return Event{}, false
		}
		for _, m := range b.Moves {
			if m.ContainerID != "" {
				if c, ok := scratch[m.ContainerID]; !ok || c.Type != ItemContainer {
					return Event{}, false
				}
			}
			it := scratch[m.ID]
			it.X, it.Y, it.ContainerID = m.X, m.Y, m.ContainerID
			scratch[m.ID] = it
		}
		for _, id := range addIDs {
			if !containerChain(scratch, id, func(string) bool { return true }) {
				return Event{}, false
			}
		}
	}

	merged := add
	merged.Items = make([]Item, 0, len(addIDs))
	for _, id := range addIDs {
		merged.Items = append(merged.Items, scratch[id])
	}
	return merged, true
}

func sameSet(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	other := make(map[string]bool, len(b))
	for _, id := range b {
		if !set[id] {
			return false
		}
		other[id] = true
	}
	return len(other) == len(set)
}

func patchIDs(ps []ItemPatch) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func moveIDs(ms []ItemMove) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func connectionIDs(cs []Connection) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func mapKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
