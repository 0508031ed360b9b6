package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type row struct {
	id string
}

func TestEncodeDecodeCursor(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-03-01T12:00:00Z"})
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	assert.NoError(t, err)
	assert.Equal(t, "42", decoded.ID)
	assert.Equal(t, "2026-03-01T12:00:00Z", decoded.CreatedAt)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%not-base64%%%")
	assert.Error(t, err)

	// valid base64 but not a cursor payload
	_, err = DecodeCursor("bm90LWpzb24=")
	assert.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	extract := func(r *row) string { return r.id }

	// empty input
	pageInfo, data := BuildCursorPageInfo([]*row{}, 10, extract)
	assert.False(t, pageInfo.HasMore)
	assert.Empty(t, data)

	// fewer rows than the limit
	rows := []*row{{id: "3"}, {id: "2"}}
	pageInfo, data = BuildCursorPageInfo(rows, 10, extract)
	assert.False(t, pageInfo.HasMore)
	assert.Len(t, data, 2)
	assert.Equal(t, "2", pageInfo.NextPageToken)

	// one extra row signals another page and is trimmed
	rows = []*row{{id: "3"}, {id: "2"}, {id: "1"}}
	pageInfo, data = BuildCursorPageInfo(rows, 2, extract)
	assert.True(t, pageInfo.HasMore)
	assert.Len(t, data, 2)
	assert.Equal(t, "2", pageInfo.NextPageToken)
}
