package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSSLMode(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u:p@host/db?sslmode=require", "require"},
		{"postgres://u:p@host/db?sslmode=DISABLE", "disable"},
		{"postgres://u:p@host/db", "prefer (default)"},
		{"://bad", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSSLMode(tt.url))
		})
	}
}

func TestQueryName(t *testing.T) {
	assert.Equal(t, "select", queryName(lookupSessionQuery))
	assert.Equal(t, "insert", queryName("\n\tINSERT INTO sessions VALUES ($1)"))
	assert.Equal(t, "unknown", queryName("   "))
	assert.Len(t, queryName("averyveryveryverylongkeyword"), 20)
}
