package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(id int64) *snowflake.ID {
	v := snowflake.ID(id)
	return &v
}

func byID(assignments []Assignment) map[snowflake.ID]Assignment {
	out := make(map[snowflake.ID]Assignment, len(assignments))
	for _, a := range assignments {
		out[a.ID] = a
	}
	return out
}

func TestEncodeDecodePath(t *testing.T) {
	encoded := EncodePath([]snowflake.ID{1, 20, 300})
	assert.Equal(t, "/1/20/300/", encoded)

	ids, err := DecodePath(encoded)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{1, 20, 300}, ids)

	ids, err = DecodePath("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = DecodePath("/1/x/")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestBuildPathsVisitsEveryNodeOnce(t *testing.T) {
	nodes := []Node{
		{ID: 5, ReferrerID: ref(2)},
		{ID: 1},
		{ID: 2, ReferrerID: ref(1)},
		{ID: 3, ReferrerID: ref(1)},
		{ID: 4, ReferrerID: ref(3)},
		{ID: 9},
	}

	assignments, failures := BuildPaths(nodes)
	assert.Empty(t, failures)
	require.Len(t, assignments, len(nodes))

	got := byID(assignments)
	assert.Equal(t, []snowflake.ID{1, 2, 5}, got[5].Path)
	assert.Equal(t, 2, got[5].Level)
	assert.Equal(t, []snowflake.ID{1, 3, 4}, got[4].Path)
	assert.Equal(t, []snowflake.ID{9}, got[9].Path)

	for _, n := range nodes {
		a := got[n.ID]
		assert.True(t, ConsistentWith(a.Path, n.ID, n.ReferrerID, a.Level), "node %d", n.ID)
	}
}

func TestBuildPathsBreadthFirstOrder(t *testing.T) {
	nodes := []Node{
		{ID: 1},
		{ID: 4, ReferrerID: ref(2)},
		{ID: 3, ReferrerID: ref(1)},
		{ID: 2, ReferrerID: ref(1)},
	}
	assignments, _ := BuildPaths(nodes)

	order := make([]snowflake.ID, 0, len(assignments))
	for _, a := range assignments {
		order = append(order, a.ID)
	}
	assert.Equal(t, []snowflake.ID{1, 2, 3, 4}, order)
}

func TestBuildPathsMissingReferrerBecomesOrphanRoot(t *testing.T) {
	nodes := []Node{
		{ID: 1},
		{ID: 2, ReferrerID: ref(99)},
		{ID: 3, ReferrerID: ref(2)},
	}

	assignments, failures := BuildPaths(nodes)
	require.Len(t, failures, 1)
	assert.Equal(t, PathFailure{ID: 2, Reason: PathFailureMissingReferrer}, failures[0])

	got := byID(assignments)
	assert.Equal(t, []snowflake.ID{2}, got[2].Path)
	assert.Equal(t, 0, got[2].Level)
	assert.Equal(t, []snowflake.ID{2, 3}, got[3].Path)
}

func TestBuildPathsCycleDoesNotAbortWalk(t *testing.T) {
	nodes := []Node{
		{ID: 1},
		{ID: 2, ReferrerID: ref(1)},
		{ID: 10, ReferrerID: ref(12)},
		{ID: 11, ReferrerID: ref(10)},
		{ID: 12, ReferrerID: ref(11)},
		{ID: 7, ReferrerID: ref(11)},
	}

	assignments, failures := BuildPaths(nodes)
	require.Len(t, assignments, len(nodes))
	require.Len(t, failures, 1)
	assert.Equal(t, snowflake.ID(10), failures[0].ID)
	assert.Equal(t, PathFailureCycle, failures[0].Reason)

	got := byID(assignments)
	assert.Equal(t, []snowflake.ID{1, 2}, got[2].Path)
	assert.Equal(t, []snowflake.ID{10}, got[10].Path)
	assert.Equal(t, []snowflake.ID{10, 11}, got[11].Path)
	assert.Equal(t, []snowflake.ID{10, 11, 12}, got[12].Path)
	assert.Equal(t, []snowflake.ID{10, 11, 7}, got[7].Path)
}

func TestBuildPathsSelfReferrer(t *testing.T) {
	assignments, failures := BuildPaths([]Node{{ID: 4, ReferrerID: ref(4)}})
	require.Len(t, assignments, 1)
	require.Len(t, failures, 1)
	assert.Equal(t, []snowflake.ID{4}, assignments[0].Path)
}

func TestBuildSubtreeExtendsRootPath(t *testing.T) {
	root := Assignment{ID: 3, Path: []snowflake.ID{1, 3}}
	nodes := []Node{
		{ID: 3, ReferrerID: ref(1)},
		{ID: 6, ReferrerID: ref(3)},
		{ID: 8, ReferrerID: ref(6)},
		{ID: 50, ReferrerID: ref(40)},
	}

	assignments := BuildSubtree(root, nodes)
	require.Len(t, assignments, 3)

	got := byID(assignments)
	assert.Equal(t, 1, got[3].Level)
	assert.Equal(t, []snowflake.ID{1, 3, 6, 8}, got[8].Path)
	assert.Equal(t, 3, got[8].Level)
}

func TestConsistentWith(t *testing.T) {
	assert.True(t, ConsistentWith([]snowflake.ID{1}, 1, nil, 0))
	assert.False(t, ConsistentWith([]snowflake.ID{1, 2}, 2, nil, 1))
	assert.True(t, ConsistentWith([]snowflake.ID{1, 2}, 2, ref(1), 1))
	assert.False(t, ConsistentWith([]snowflake.ID{1, 2}, 2, ref(5), 1))
	assert.False(t, ConsistentWith([]snowflake.ID{1, 2}, 2, ref(1), 2))
}
