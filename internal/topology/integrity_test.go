package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_FindsOrphanedEntity(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("kitchen", "Kitchen", "", false, "", nil)
	require.NoError(t, s.AddEntityToLocation("e1", "kitchen"))
	s.mu.Lock()
	s.entityIndex["e2"] = "ghost"
	s.mu.Unlock()

	issues := Validate(s)
	var found bool
	for _, i := range issues {
		if i.Type == IssueOrphanedEntity && i.EntityID == "e2" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_FindsEmptyLocation(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("unassigned_room", "Unassigned Room", "", false, "", nil)

	issues := Validate(s)
	var found bool
	for _, i := range issues {
		if i.Type == IssueEmptyLocation && i.LocationID == "unassigned_room" {
			found = true
			assert.Equal(t, SeverityInfo, i.Severity)
		}
	}
	assert.True(t, found)
}

func TestValidate_RootNeverFlaggedEmpty(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("house", "House", "", true, "", nil)

	issues := Validate(s)
	for _, i := range issues {
		assert.False(t, i.Type == IssueEmptyLocation && i.LocationID == "house")
	}
}

func TestAutoRepair_OrphanedEntityRemovesIndexEntry(t *testing.T) {
	s := newTestStore(t)
	s.mu.Lock()
	s.entityIndex["e2"] = "ghost"
	s.mu.Unlock()

	issues := Validate(s)
	require.Len(t, issues, 1)
	require.True(t, s.AutoRepair(issues[0]))
	assert.Equal(t, "", s.GetEntityLocation("e2"))
}

func TestAutoRepair_EmptyLocationDeletesIt(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateLocation("unassigned_room", "Unassigned Room", "", false, "", nil)

	issues := Validate(s)
	require.Len(t, issues, 1)
	require.True(t, s.AutoRepair(issues[0]))
	assert.False(t, s.Exists("unassigned_room"))
}
