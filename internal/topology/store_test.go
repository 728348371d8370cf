package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore()
}

func TestCreateLocation_RejectsDuplicateAndMissingParent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateLocation("house", "House", "", true, "", nil)
	require.NoError(t, err)

	_, err = s.CreateLocation("house", "House Again", "", true, "", nil)
	require.Error(t, err)

	_, err = s.CreateLocation("kitchen", "Kitchen", "nonexistent", false, "", nil)
	require.Error(t, err)

	_, err = s.CreateLocation("loop", "Loop", "loop", false, "", nil)
	require.Error(t, err)
}

func TestAncestorChainTerminatesAtRoot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateLocation("house", "House", "", true, "", nil)
	require.NoError(t, err)
	_, err = s.CreateLocation("floor", "Floor", "house", false, "", nil)
	require.NoError(t, err)
	_, err = s.CreateLocation("kitchen", "Kitchen", "floor", false, "", nil)
	require.NoError(t, err)

	ancestors := s.AncestorsOf("kitchen")
	require.Len(t, ancestors, 2)
	assert.Equal(t, "floor", ancestors[0].ID)
	assert.Equal(t, "house", ancestors[1].ID)
	assert.False(t, ancestors[1].HasParent())
}

func TestUpdateLocation_RejectsCycle(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("house", "House", "", true, "", nil)
	_, _ = s.CreateLocation("floor", "Floor", "house", false, "", nil)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "floor", false, "", nil)

	newParent := "kitchen"
	_, err := s.UpdateLocation("house", nil, &newParent, nil)
	require.Error(t, err)
}

func TestEntityReverseIndex_ExactlyOneLocation(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "", false, "", nil)
	_, _ = s.CreateLocation("office", "Office", "", false, "", nil)

	require.NoError(t, s.AddEntityToLocation("e1", "kitchen"))
	assert.Equal(t, "kitchen", s.GetEntityLocation("e1"))
	assert.Contains(t, s.GetEntitiesInLocation("kitchen"), "e1")

	require.NoError(t, s.AddEntityToLocation("e1", "office"))
	assert.Equal(t, "office", s.GetEntityLocation("e1"))
	assert.NotContains(t, s.GetEntitiesInLocation("kitchen"), "e1")
	assert.Len(t, s.GetEntitiesInLocation("office"), 1)
}

func TestDeleteLocation_CascadeRemovesExactlySelfAndDescendants(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("house", "House", "", true, "", nil)
	_, _ = s.CreateLocation("main_floor", "Main Floor", "house", false, "", nil)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "main_floor", false, "", nil)
	_, _ = s.CreateLocation("living", "Living", "main_floor", false, "", nil)
	require.NoError(t, s.AddEntityToLocation("e1", "kitchen"))
	require.NoError(t, s.SetModuleConfig("kitchen", "occupancy", ConfigBlob{"version": 1}))

	deleted, err := s.DeleteLocation("main_floor", true, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"kitchen", "living", "main_floor"}, deleted)
	// Children-first ordering: main_floor must be last.
	assert.Equal(t, "main_floor", deleted[len(deleted)-1])

	assert.False(t, s.Exists("main_floor"))
	assert.False(t, s.Exists("kitchen"))
	assert.False(t, s.Exists("living"))
	assert.Equal(t, "", s.GetEntityLocation("e1"))
	assert.True(t, s.Exists("house"))
}

func TestDeleteLocation_WithoutCascadeRequiresNoChildren(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("house", "House", "", true, "", nil)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "house", false, "", nil)

	_, err := s.DeleteLocation("house", false, false)
	require.Error(t, err)

	deleted, err := s.DeleteLocation("house", false, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"house"}, deleted)

	moved := s.Get("kitchen")
	require.NotNil(t, moved)
	assert.Equal(t, "", moved.ParentID)
	assert.False(t, moved.IsExplicitRoot)
}

func TestDeleteLocation_FiresHooksChildrenFirst(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("house", "House", "", true, "", nil)
	_, _ = s.CreateLocation("main_floor", "Main Floor", "house", false, "", nil)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "main_floor", false, "", nil)

	var notified []string
	s.RegisterDeletionHook(func(id string) { notified = append(notified, id) })

	_, err := s.DeleteLocation("main_floor", true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen", "main_floor"}, notified)
}

func TestDeleteLocation_HookPanicIsSwallowed(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "", false, "", nil)
	s.RegisterDeletionHook(func(string) { panic("boom") })

	assert.NotPanics(t, func() {
		_, err := s.DeleteLocation("kitchen", false, false)
		require.NoError(t, err)
	})
}

func TestAllLocations_AgreesWithRootsPlusUnassigned(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("house", "House", "", true, "", nil)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "house", false, "", nil)
	_, _ = s.CreateLocation("garage", "Garage", "", false, "", nil)

	all := s.AllLocations()
	assert.Len(t, all, 3)

	roots := s.GetRootLocations()
	require.Len(t, roots, 1)
	assert.Equal(t, "house", roots[0].ID)

	unassigned := s.GetUnassignedLocations()
	require.Len(t, unassigned, 1)
	assert.Equal(t, "garage", unassigned[0].ID)

	reachable := map[string]bool{"house": true, "kitchen": true}
	for _, loc := range unassigned {
		reachable[loc.ID] = true
	}
	for _, loc := range all {
		assert.True(t, reachable[loc.ID], "location %s not reachable from roots+unassigned", loc.ID)
	}
}

func TestSetModuleConfig_RequiresVersionWhenNonEmpty(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "", false, "", nil)

	require.NoError(t, s.SetModuleConfig("kitchen", "occupancy", nil))
	require.Error(t, s.SetModuleConfig("kitchen", "occupancy", ConfigBlob{"default_timeout_seconds": 300}))
	require.NoError(t, s.SetModuleConfig("kitchen", "occupancy", ConfigBlob{"version": 1, "default_timeout_seconds": 300}))

	blob := s.GetModuleConfig("kitchen", "occupancy")
	assert.Equal(t, 1, blob["version"])
}

func TestFindByAliasAndName_DeterministicOnDuplicates(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("b-room", "Room", "", false, "", []string{"den"})
	_, _ = s.CreateLocation("a-room", "Room", "", false, "", []string{"den"})

	byName := s.GetLocationByName("Room")
	require.NotNil(t, byName)
	assert.Equal(t, "a-room", byName.ID)

	byAlias := s.FindByAlias("den")
	require.NotNil(t, byAlias)
	assert.Equal(t, "a-room", byAlias.ID)
}
