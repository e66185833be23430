package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func Test_wrapError(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name: "nil passes through",
		},
		{
			name:     "no rows maps to not found",
			err:      sql.ErrNoRows,
			expected: ErrNotFound,
		},
		{
			name:     "wrapped no rows maps to not found",
			err:      fmt.Errorf("query: %w", sql.ErrNoRows),
			expected: ErrNotFound,
		},
		{
			name:     "unique violation maps to duplicate",
			err:      &pq.Error{Code: uniqueViolation},
			expected: ErrDuplicate,
		},
		{
			name:     "other pq errors pass through",
			err:      &pq.Error{Code: "23503"},
			expected: &pq.Error{Code: "23503"},
		},
		{
			name:     "unrelated errors pass through",
			err:      errors.New("connection refused"),
			expected: errors.New("connection refused"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got := wrapError(tc.err)
			if tc.expected == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}
