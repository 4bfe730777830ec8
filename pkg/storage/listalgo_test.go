package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/types"
)

func lookupIdentity(name string) types.StoredKey {
	return types.StoredKey{Name: name}
}

func TestPaginateFiltersByPrefixAndRange(t *testing.T) {
	names := []string{"a1", "a2", "b1", "b2", "c1"}

	res := Paginate(names, lookupIdentity, types.ListOptions{Prefix: "a"})
	require.Len(t, res.Keys, 2)
	assert.Equal(t, "a1", res.Keys[0].Name)
	assert.Equal(t, "a2", res.Keys[1].Name)

	res = Paginate(names, lookupIdentity, types.ListOptions{ExcludePrefix: "a"})
	require.Len(t, res.Keys, 3)

	res = Paginate(names, lookupIdentity, types.ListOptions{Start: "b1", End: "c1"})
	require.Len(t, res.Keys, 2)
	assert.Equal(t, "b1", res.Keys[0].Name)
	assert.Equal(t, "b2", res.Keys[1].Name)
}

func TestPaginateReverse(t *testing.T) {
	names := []string{"a", "b", "c"}
	res := Paginate(names, lookupIdentity, types.ListOptions{Reverse: true})
	require.Len(t, res.Keys, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{res.Keys[0].Name, res.Keys[1].Name, res.Keys[2].Name})
}

func TestPaginateCursorResumesAfterLastEmitted(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	page1 := Paginate(names, lookupIdentity, types.ListOptions{Limit: 2})
	require.Len(t, page1.Keys, 2)
	require.NotEmpty(t, page1.Cursor)

	page2 := Paginate(names, lookupIdentity, types.ListOptions{Limit: 2, Cursor: page1.Cursor})
	require.Len(t, page2.Keys, 2)
	assert.Equal(t, "c", page2.Keys[0].Name)
	assert.Equal(t, "d", page2.Keys[1].Name)
	assert.Empty(t, page2.Cursor, "final page must carry no cursor")
}

func TestPaginateUndecodableCursorReturnsEmptyPage(t *testing.T) {
	names := []string{"a", "b"}
	res := Paginate(names, lookupIdentity, types.ListOptions{Cursor: "not-valid-base64!!"})
	assert.Empty(t, res.Keys)
}

func TestPaginateStaleCursorReturnsEmptyPage(t *testing.T) {
	names := []string{"a", "b"}
	cursor := types.EncodeCursor("z") // never actually emitted
	res := Paginate(names, lookupIdentity, types.ListOptions{Cursor: cursor})
	assert.Empty(t, res.Keys)
}

func TestPaginateDelimiterSynthesizesPrefixesAndSkipsChildren(t *testing.T) {
	names := []string{"dir/a", "dir/b", "other", "zzz"}
	res := Paginate(names, lookupIdentity, types.ListOptions{Delimiter: "/"})
	require.Len(t, res.Keys, 3)
	assert.Equal(t, "dir/", res.Keys[0].Name)
	assert.True(t, res.Keys[0].DelimitedPrefix)
	assert.Equal(t, "other", res.Keys[1].Name)
	assert.Equal(t, "zzz", res.Keys[2].Name)
}

func TestPaginateLimitZeroMeansUnbounded(t *testing.T) {
	names := []string{"a", "b", "c"}
	res := Paginate(names, lookupIdentity, types.ListOptions{})
	assert.Len(t, res.Keys, 3)
	assert.Empty(t, res.Cursor)
}

func TestValidateKeyNameRejectsReservedAndOversizeNames(t *testing.T) {
	require.NoError(t, ValidateKeyName("ok"))
	assert.Error(t, ValidateKeyName(""))
	assert.Error(t, ValidateKeyName("."))
	assert.Error(t, ValidateKeyName(".."))

	long := make([]byte, 513)
	for i := range long {
		long[i] = 'x'
	}
	assert.Error(t, ValidateKeyName(string(long)))
}
