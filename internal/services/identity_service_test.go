package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
)

func TestIdentityResolver_Resolve(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "holder@example.com")
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
		found      bool
	}{
		{"email exact match", "holder@example.com", true},
		{"email surrounded by spaces", "  holder@example.com ", true},
		{"unknown email", "other@example.com", false},
		{"national id", "12345678-K", true},
		{"national id lower-case check", "12345678-k", true},
		{"national id wrong check", "12345678-7", false},
		{"unknown national id", "87654321-K", false},
		{"missing check", "12345678", false},
		{"letters in number", "12A45678-K", false},
		{"two check characters", "12345678-KK", false},
		{"overflowing number", "99999999999999999999-K", false},
		{"blank", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.resolver.Resolve(ctx, tt.identifier)
			if !tt.found {
				assert.ErrorIs(t, err, models.ErrUserNotFound)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, account.ID, got.ID)
		})
	}
}

func TestParseNationalID(t *testing.T) {
	n, check, ok := ParseNationalID("0042-x")
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, "x", check)

	_, _, ok = ParseNationalID("-1")
	assert.False(t, ok)
}
