package publication

import (
	"testing"

	"filecollection/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_MismatchYieldsEmptyQuery(t *testing.T) {
	q := Resolve("u1", "u2")
	assert.True(t, q.Empty())

	_, ok := q.FindParams()
	assert.False(t, ok)

	rec := &repository.FileRecord{ID: "f", Metadata: repository.FileMetadata{Owner: "u1"}}
	assert.False(t, q.Matches(rec))
	rec.Metadata.Owner = "u2"
	assert.False(t, q.Matches(rec))
}

func TestResolve_MatchingIdentity(t *testing.T) {
	q := Resolve("u1", "u1")
	require.False(t, q.Empty())
	assert.Equal(t, "u1", q.Owner())

	params, ok := q.FindParams()
	require.True(t, ok)
	require.NotNil(t, params.Owner)
	assert.Equal(t, "u1", *params.Owner)
	assert.True(t, params.ExcludePartial)

	own := &repository.FileRecord{ID: "f", Metadata: repository.FileMetadata{Owner: "u1"}}
	other := &repository.FileRecord{ID: "g", Metadata: repository.FileMetadata{Owner: "u2"}}
	chunk := &repository.FileRecord{ID: "f-1", Metadata: repository.FileMetadata{Owner: "u1", PartialChunk: &repository.ChunkRef{FileID: "f", Number: 1}}}

	assert.True(t, q.Matches(own))
	assert.False(t, q.Matches(other))
	assert.False(t, q.Matches(chunk))
	assert.False(t, q.Matches(nil))
}
