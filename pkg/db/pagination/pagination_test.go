package pagination

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, 10, Pagination{PageSize: 10}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Size())
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 5, 1, 10, 0, 0, 123, time.UTC)
	token := Cursor{ID: "42", At: at}.Encode()

	got, err := Pagination{PageToken: token}.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "42", got.ID)
	assert.True(t, at.Equal(got.At))

	none, err := Pagination{PageToken: "  "}.Cursor()
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90IGpzb24", Cursor{ID: "1"}.Encode()} {
		_, err := Pagination{PageToken: token}.Cursor()
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestPage(t *testing.T) {
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	cursorOf := func(n int) Cursor { return Cursor{ID: strconv.Itoa(n), At: at} }

	rows, info := Page([]int{5, 4, 3}, 2, cursorOf)
	assert.Equal(t, []int{5, 4}, rows)
	assert.True(t, info.HasMore)
	next, err := Pagination{PageToken: info.NextPageToken}.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "4", next.ID)

	rows, info = Page([]int{2, 1}, 2, cursorOf)
	assert.Equal(t, []int{2, 1}, rows)
	assert.Equal(t, PageInfo{}, info)
}
