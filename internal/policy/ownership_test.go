package policy

import (
	"testing"

	"filecollection/internal/repository"

	"github.com/stretchr/testify/assert"
)

func TestOwnership_CanInsertForcesOwner(t *testing.T) {
	rules := Ownership{}

	cases := []struct {
		name     string
		supplied string
		caller   string
	}{
		{"no owner supplied", "", "u1"},
		{"spoofed owner", "someone-else", "u1"},
		{"anonymous caller", "u2", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &repository.FileRecord{ID: "f", Metadata: repository.FileMetadata{Owner: tc.supplied}}
			assert.True(t, rules.CanInsert(tc.caller, rec))
			assert.Equal(t, tc.caller, rec.Metadata.Owner)
		})
	}
}

func TestOwnership_NonOwnerDenied(t *testing.T) {
	rules := Ownership{}
	rec := &repository.FileRecord{ID: "f", Metadata: repository.FileMetadata{Owner: "u1"}}

	for _, caller := range []string{"u2", "", "U1", "u1 "} {
		assert.False(t, rules.CanRead(caller, rec), "read by %q", caller)
		assert.False(t, rules.CanRemove(caller, rec), "remove by %q", caller)
		assert.False(t, rules.CanWrite(caller, rec, []string{"length"}), "write by %q", caller)
	}
}

func TestOwnership_OwnerAllowed(t *testing.T) {
	rules := Ownership{}
	rec := &repository.FileRecord{ID: "f", Metadata: repository.FileMetadata{Owner: "u1"}}

	assert.True(t, rules.CanRead("u1", rec))
	assert.True(t, rules.CanRemove("u1", rec))
	assert.True(t, rules.CanWrite("u1", rec, nil))
}

func TestOwnership_NilRecord(t *testing.T) {
	rules := Ownership{}

	assert.False(t, rules.CanInsert("u1", nil))
	assert.False(t, rules.CanRead("u1", nil))
	assert.False(t, rules.CanRemove("u1", nil))
	assert.False(t, rules.CanWrite("u1", nil, nil))
}
