package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"crisp.db", "crisp.db?_foreign_keys=1"},
		{"file:crisp.db?cache=shared", "file:crisp.db?cache=shared&_foreign_keys=1"},
		{"file:x?mode=memory&_foreign_keys=1", "file:x?mode=memory&_foreign_keys=1"},
		{"file:x?_fk=0", "file:x?_fk=0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.in), tt.in)
	}
}
