package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is a board with a container holding two notes, a free text item,
// an image and three connections (anchored across the container, inside the
// container, and half-free).
func fixture() *Board {
	b := New("b1", "Planning", 0, 0)
	b.Serial = 5
	b.Items = map[string]Item{
		"c1": {ID: "c1", Type: ItemContainer, X: 0.5, Y: 0.25, Width: 500, Height: 500, Text: "Group"},
		"n1": {ID: "n1", Type: ItemNote, X: 10.1, Y: 10.3, Width: 100, Height: 100, Z: 1, ContainerID: "c1", Text: "one", FontSize: 16},
		"n2": {ID: "n2", Type: ItemNote, X: 200.7, Y: 10.3, Width: 100, Height: 100, Z: 2, ContainerID: "c1", Text: "two"},
		"t1": {ID: "t1", Type: ItemText, X: 700, Y: 700.1, Width: 240, Height: 60, Z: 3, Text: "title", FontSize: 20.3},
		"i1": {ID: "i1", Type: ItemImage, X: 900, Y: 100, Width: 320, Height: 240, Z: 4, AssetID: "asset-1"},
	}
	b.Connections = []Connection{
		{ID: "k1", From: Endpoint{ItemID: "n1"}, To: Endpoint{ItemID: "t1"}, ControlPoints: []Point{{X: 300.3, Y: 300.1}}, FromStyle: "none", ToStyle: "arrow"},
		{ID: "k2", From: Endpoint{ItemID: "n1"}, To: Endpoint{ItemID: "n2"}, ContainerID: "c1", ControlPoints: []Point{{X: 150.2, Y: 60.6}}},
		{ID: "k3", From: Endpoint{X: 1000.5, Y: 1000.5}, To: Endpoint{ItemID: "i1"}},
	}
	return b
}

func mustApply(t *testing.T, b *Board, ev Event) (*Board, *Event) {
	t.Helper()
	next, inv, err := Apply(b, ev)
	require.NoError(t, err)
	return next, inv
}

func TestApplyRoundTrip(t *testing.T) {
	policy := &AccessPolicy{Public: AccessRead, Users: map[string]AccessLevel{"u2": AccessWrite}}
	tests := []struct {
		name string
		ev   Event
	}{
		{"add note with connection", Event{Action: ActionItemAdd, Items: []Item{
			{ID: "n3", Type: ItemNote, X: 40, Y: 300, Width: 80, Height: 80, Z: 9, ContainerID: "c1"},
		}, Connections: []Connection{{ID: "k4", From: Endpoint{ItemID: "n3"}, To: Endpoint{ItemID: "i1"}}}}},
		{"update fields", Event{Action: ActionItemUpdate, Patches: []ItemPatch{
			{ID: "n1", Text: ptr("uno"), Color: ptr("yellow")},
			{ID: "t1", FontSize: ptr(31.7)},
			{ID: "n1", Text: ptr("eins")},
		}}},
		{"move container", Event{Action: ActionItemMove, Moves: []ItemMove{{ID: "c1", X: 33.3, Y: 17.7}}}},
		{"move note out of container", Event{Action: ActionItemMove, Moves: []ItemMove{{ID: "n1", X: 800.5, Y: 20.25}}}},
		{"move note and container", Event{Action: ActionItemMove, Moves: []ItemMove{
			{ID: "c1", X: -40.1, Y: 3.3},
			{ID: "n2", X: 12.9, Y: 7.7, ContainerID: "c1"},
		}}},
		{"move image carries free connection end partially", Event{Action: ActionItemMove, Moves: []ItemMove{{ID: "i1", X: 1.1, Y: 2.2}}}},
		{"delete container", Event{Action: ActionItemDelete, ItemIDs: []string{"c1"}}},
		{"delete connection only", Event{Action: ActionItemDelete, ConnectionIDs: []string{"k3"}}},
		{"bring to front", Event{Action: ActionItemFront, ItemIDs: []string{"n1", "c1"}}},
		{"set z", Event{Action: ActionItemZ, Z: map[string]int{"n1": 7, "i1": -2}}},
		{"font increase", Event{Action: ActionFontIncrease, ItemIDs: []string{"n1", "n2", "t1", "i1"}}},
		{"font decrease", Event{Action: ActionFontDecrease, ItemIDs: []string{"t1"}}},
		{"lock", Event{Action: ActionItemLock, ItemIDs: []string{"n1", "i1"}}},
		{"connection add", Event{Action: ActionConnectionAdd, Connections: []Connection{
			{ID: "k9", From: Endpoint{ItemID: "t1"}, To: Endpoint{X: 5, Y: 5}},
		}}},
		{"connection modify", Event{Action: ActionConnectionMod, Connections: []Connection{
			{ID: "k1", From: Endpoint{ItemID: "n2"}, To: Endpoint{ItemID: "t1"}, Color: "red"},
		}}},
		{"connection delete", Event{Action: ActionConnectionDel, ConnectionIDs: []string{"k2", "k1"}}},
		{"rename", Event{Action: ActionRename, Name: "Retro"}},
		{"access policy", Event{Action: ActionSetAccessPolicy, AccessPolicy: policy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := fixture()
			tt.ev.BoardID = b.ID
			next, inv := mustApply(t, b, tt.ev)
			require.NotNil(t, inv)
			assert.NotEqual(t, b, next)

			back, _ := mustApply(t, next, *inv)
			assert.Equal(t, b, back)
			assert.Equal(t, fixture(), b, "input board must not be modified")
		})
	}
}

func TestApplyUnlockRoundTrip(t *testing.T) {
	b := fixture()
	locked, _ := mustApply(t, b, Event{Action: ActionItemLock, BoardID: "b1", ItemIDs: []string{"n1"}})
	next, inv := mustApply(t, locked, Event{Action: ActionItemUnlock, BoardID: "b1", ItemIDs: []string{"n1", "n2"}})
	require.NotNil(t, inv)
	assert.Equal(t, []string{"n1"}, inv.ItemIDs)
	back, _ := mustApply(t, next, *inv)
	assert.Equal(t, locked, back)
}

func TestApplyAdd(t *testing.T) {
	b := fixture()

	t.Run("duplicate id", func(t *testing.T) {
		_, _, err := Apply(b, Event{Action: ActionItemAdd, BoardID: "b1", Items: []Item{{ID: "n1", Type: ItemNote}}})
		assert.ErrorIs(t, err, ErrDuplicateID)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "n1", verr.ID)
	})

	t.Run("unknown container is dropped", func(t *testing.T) {
		next, _ := mustApply(t, b, Event{Action: ActionItemAdd, BoardID: "b1", Items: []Item{
			{ID: "n4", Type: ItemNote, ContainerID: "missing"},
			{ID: "n5", Type: ItemNote, ContainerID: "c2"},
			{ID: "c2", Type: ItemContainer},
		}})
		assert.Empty(t, next.Items["n4"].ContainerID)
		assert.Equal(t, "c2", next.Items["n5"].ContainerID)
	})

	t.Run("dangling connection endpoint", func(t *testing.T) {
		_, _, err := Apply(b, Event{Action: ActionItemAdd, BoardID: "b1",
			Items:       []Item{{ID: "n6", Type: ItemNote}},
			Connections: []Connection{{ID: "k7", From: Endpoint{ItemID: "n6"}, To: Endpoint{ItemID: "ghost"}}},
		})
		assert.ErrorIs(t, err, ErrDanglingEndpoint)
	})
}

func TestApplyMove(t *testing.T) {
	b := fixture()

	t.Run("container carries contents and connections", func(t *testing.T) {
		next, inv := mustApply(t, b, Event{Action: ActionItemMove, BoardID: "b1", Moves: []ItemMove{{ID: "c1", X: 100.5, Y: 50.25}}})
		assert.InDelta(t, 110.1, next.Items["n1"].X, 1e-9)
		assert.InDelta(t, 60.3, next.Items["n1"].Y, 1e-9)
		assert.Equal(t, "c1", next.Items["n1"].ContainerID)

		k2, _, _ := next.Connection("k2")
		assert.InDelta(t, 250.2, k2.ControlPoints[0].X, 1e-9)
		assert.InDelta(t, 110.6, k2.ControlPoints[0].Y, 1e-9)

		// k1 only has one end moved: its control point lies between the ends.
		k1, _, _ := next.Connection("k1")
		from, to := next.Items["n1"].center(), next.Items["t1"].center()
		assert.InDelta(t, (from.X+to.X)/2, k1.ControlPoints[0].X, 1e-9)
		assert.InDelta(t, (from.Y+to.Y)/2, k1.ControlPoints[0].Y, 1e-9)

		k3, _, _ := next.Connection("k3")
		assert.Equal(t, b.Connections[2], k3)

		assert.ElementsMatch(t, []string{"c1", "n1", "n2"}, moveIDs(inv.Moves))
		assert.ElementsMatch(t, []string{"k1", "k2"}, connectionIDs(inv.Connections))
	})

	t.Run("into a non-container", func(t *testing.T) {
		_, _, err := Apply(b, Event{Action: ActionItemMove, BoardID: "b1", Moves: []ItemMove{{ID: "n1", ContainerID: "t1"}}})
		assert.ErrorIs(t, err, ErrInvalidContainer)
	})

	t.Run("container into itself", func(t *testing.T) {
		withInner, _ := mustApply(t, b, Event{Action: ActionItemAdd, BoardID: "b1", Items: []Item{{ID: "c2", Type: ItemContainer, ContainerID: "c1"}}})
		_, _, err := Apply(withInner, Event{Action: ActionItemMove, BoardID: "b1", Moves: []ItemMove{{ID: "c1", ContainerID: "c2"}}})
		assert.ErrorIs(t, err, ErrInvalidContainer)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, _, err := Apply(b, Event{Action: ActionItemMove, BoardID: "b1", Moves: []ItemMove{{ID: "zz"}}})
		assert.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("pinned connection", func(t *testing.T) {
		pin := Connection{ID: "k1", From: Endpoint{ItemID: "n1"}, To: Endpoint{ItemID: "t1"}, ControlPoints: []Point{{X: 1, Y: 2}}}
		next, _ := mustApply(t, b, Event{Action: ActionItemMove, BoardID: "b1",
			Moves:       []ItemMove{{ID: "n1", X: 0, Y: 0, ContainerID: "c1"}},
			Connections: []Connection{pin},
		})
		k1, _, _ := next.Connection("k1")
		assert.Equal(t, pin, k1)
	})
}

func TestApplyDeleteContainerCascades(t *testing.T) {
	b := fixture()
	next, inv := mustApply(t, b, Event{Action: ActionItemDelete, BoardID: "b1", ItemIDs: []string{"c1"}})

	assert.NotContains(t, next.Items, "c1")
	assert.NotContains(t, next.Items, "n1")
	assert.NotContains(t, next.Items, "n2")
	assert.Len(t, next.Items, 2)
	assert.Equal(t, []string{"k3"}, connectionIDs(next.Connections))

	require.NotNil(t, inv)
	assert.Equal(t, ActionItemAdd, inv.Action)
	assert.Equal(t, []Item{b.Items["c1"], b.Items["n1"], b.Items["n2"]}, inv.Items)
	assert.Equal(t, []string{"k1", "k2"}, connectionIDs(inv.Connections))
	assert.Equal(t, map[string]int{"k1": 0, "k2": 1}, inv.Indexes)

	back, _ := mustApply(t, next, *inv)
	assert.Equal(t, b, back)
}

func TestApplyFront(t *testing.T) {
	b := fixture()

	next, inv := mustApply(t, b, Event{Action: ActionItemFront, BoardID: "b1", ItemIDs: []string{"n1", "n2", "c1"}})
	assert.Equal(t, 5, next.Items["n1"].Z)
	assert.Equal(t, 5, next.Items["n2"].Z)
	assert.Equal(t, 0, next.Items["c1"].Z)
	assert.Equal(t, &Event{Action: ActionItemZ, BoardID: "b1", Z: map[string]int{"n1": 1, "n2": 2}}, inv)

	again, inv := mustApply(t, next, Event{Action: ActionItemFront, BoardID: "b1", ItemIDs: []string{"n2", "n1"}})
	assert.Nil(t, inv)
	assert.Same(t, next, again)
}

func TestApplyFont(t *testing.T) {
	b := fixture()
	next, inv := mustApply(t, b, Event{Action: ActionFontIncrease, BoardID: "b1", ItemIDs: []string{"n2", "i1"}})
	assert.InDelta(t, DefaultFontSize*1.1, next.Items["n2"].FontSize, 1e-9)
	assert.Equal(t, b.Items["i1"], next.Items["i1"])
	require.Len(t, inv.Patches, 1)
	assert.Equal(t, 0.0, *inv.Patches[0].FontSize)

	up, _ := mustApply(t, b, Event{Action: ActionFontIncrease, BoardID: "b1", ItemIDs: []string{"t1"}})
	down, _ := mustApply(t, up, Event{Action: ActionFontDecrease, BoardID: "b1", ItemIDs: []string{"t1"}})
	assert.InDelta(t, b.Items["t1"].FontSize, down.Items["t1"].FontSize, 1e-9)

	same, inv := mustApply(t, b, Event{Action: ActionFontIncrease, BoardID: "b1", ItemIDs: []string{"i1"}})
	assert.Nil(t, inv)
	assert.Same(t, b, same)
}

func TestApplyConnections(t *testing.T) {
	b := fixture()

	_, _, err := Apply(b, Event{Action: ActionConnectionMod, BoardID: "b1", Connections: []Connection{{ID: "nope"}}})
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	_, _, err = Apply(b, Event{Action: ActionConnectionAdd, BoardID: "b1", Connections: []Connection{
		{ID: "k5", From: Endpoint{ItemID: "n1"}, To: Endpoint{ItemID: "gone"}},
	}})
	assert.ErrorIs(t, err, ErrDanglingEndpoint)

	_, _, err = Apply(b, Event{Action: ActionConnectionAdd, BoardID: "b1", Connections: []Connection{{ID: "k1"}}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, _, err = Apply(b, Event{Action: ActionConnectionDel, BoardID: "b1", ConnectionIDs: []string{"k8"}})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestApplyRejects(t *testing.T) {
	b := fixture()

	_, _, err := Apply(b, Event{Action: ActionItemDelete, BoardID: "other", ItemIDs: []string{"n1"}})
	assert.ErrorIs(t, err, ErrWrongBoard)

	_, _, err = Apply(b, Event{Action: "item.explode", BoardID: "b1"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, _, err = Apply(b, Event{Action: ActionItemUpdate, BoardID: "b1", Patches: []ItemPatch{{ID: "ghost", Text: ptr("x")}}})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestApplyBootstrapAndCursor(t *testing.T) {
	b := fixture()
	empty := New("b1", "Planning", 0, 0)

	next, inv := mustApply(t, empty, Event{Action: ActionBootstrap, BoardID: "b1", Items: b.SortedItems(), Connections: b.Connections})
	assert.Nil(t, inv)
	assert.Equal(t, b.Items, next.Items)
	assert.Equal(t, b.Connections, next.Connections)

	same, inv := mustApply(t, b, Event{Action: ActionCursor, BoardID: "b1", Cursor: &Point{X: 1, Y: 1}})
	assert.Nil(t, inv)
	assert.Same(t, b, same)
}

func TestApplyBootstrapDropsDanglingContainers(t *testing.T) {
	empty := New("b1", "Planning", 0, 0)
	next, _ := mustApply(t, empty, Event{Action: ActionBootstrap, BoardID: "b1", Items: []Item{
		{ID: "c1", Type: ItemContainer, Width: 500, Height: 500},
		{ID: "n1", Type: ItemNote, Width: 10, Height: 10, ContainerID: "c1"},
		{ID: "n2", Type: ItemNote, Width: 10, Height: 10, ContainerID: "gone"},
		{ID: "n3", Type: ItemNote, Width: 10, Height: 10, ContainerID: "n1"},
	}})
	assert.Equal(t, "c1", next.Items["n1"].ContainerID)
	assert.Empty(t, next.Items["n2"].ContainerID)
	assert.Empty(t, next.Items["n3"].ContainerID)

	// a later item with the missing container's id must delete cleanly again
	added, inv := mustApply(t, next, Event{Action: ActionItemAdd, BoardID: "b1", Items: []Item{
		{ID: "gone", Type: ItemContainer, Width: 50, Height: 50},
	}})
	back, _ := mustApply(t, added, *inv)
	assert.Equal(t, next, back)
}

func TestApplyEntrySerials(t *testing.T) {
	b := fixture()
	ev := Event{Action: ActionRename, BoardID: "b1", Name: "Next"}

	next, _, err := ApplyEntry(b, HistoryEntry{Event: ev, Serial: 6, FirstSerial: 6}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(6), next.Serial)
	assert.Equal(t, int64(5), b.Serial)

	_, _, err = ApplyEntry(b, HistoryEntry{Event: ev, Serial: 8, FirstSerial: 8}, true)
	assert.ErrorIs(t, err, ErrSerialMismatch)

	lenient, _, err := ApplyEntry(b, HistoryEntry{Event: ev, Serial: 8, FirstSerial: 8}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8), lenient.Serial)

	folded, _, err := ApplyEntry(b, HistoryEntry{Event: ev, Serial: 9, FirstSerial: 6}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(9), folded.Serial)

	noop, _, err := ApplyEntry(b, HistoryEntry{Event: Event{Action: ActionRename, BoardID: "b1", Name: "Planning"}, Serial: 6}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(6), noop.Serial)
	assert.Equal(t, int64(5), b.Serial)
}

func TestAccessPolicyLevelFor(t *testing.T) {
	var open *AccessPolicy
	assert.Equal(t, AccessWrite, open.LevelFor("anyone", "owner"))

	p := &AccessPolicy{Public: AccessRead, Users: map[string]AccessLevel{"u1": AccessWrite, "u2": AccessNone}}
	assert.Equal(t, AccessAdmin, p.LevelFor("owner", "owner"))
	assert.Equal(t, AccessWrite, p.LevelFor("u1", "owner"))
	assert.Equal(t, AccessRead, p.LevelFor("u2", "owner"))
	assert.Equal(t, AccessRead, p.LevelFor("", "owner"))

	assert.True(t, AccessAdmin.Allows(AccessWrite))
	assert.False(t, AccessRead.Allows(RequiredLevel(ActionItemAdd)))
	assert.True(t, AccessRead.Allows(RequiredLevel(ActionCursor)))
	assert.False(t, AccessWrite.Allows(RequiredLevel(ActionSetAccessPolicy)))
}
