package sqlutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositiveInt32(t *testing.T) {
	assert.Equal(t, sql.NullInt32{}, PositiveInt32(0))
	assert.Equal(t, sql.NullInt32{}, PositiveInt32(-5))
	assert.Equal(t, sql.NullInt32{Int32: 20, Valid: true}, PositiveInt32(20))
	assert.Equal(t, sql.NullInt32{}, ToSqlInt32(nil))
}

func TestFromSqlTime(t *testing.T) {
	assert.Nil(t, FromSqlTime(sql.NullTime{}))

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	got := FromSqlTime(sql.NullTime{Time: now, Valid: true})
	if assert.NotNil(t, got) {
		assert.True(t, now.Equal(*got))
	}
}
