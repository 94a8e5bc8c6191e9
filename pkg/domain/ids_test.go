package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "rally/pkg/domain-errors"
)

// TestParseID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs".
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseGroupID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseGroupID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseGroupID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseGroupID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, GroupID(validUUID), id)
	})
}

// TestParseID_RejectsJunkInput validates that parsing rejects attack vectors
// at API entry points.
func TestParseID_RejectsJunkInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE members;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChallengeID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestAllIDTypes_ConsistentBehavior ensures all ID types share identical
// parsing behavior.
func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	validUUID := uuid.New().String()
	invalidInputs := []string{"", "invalid", uuid.Nil.String()}

	t.Run("all accept valid UUID", func(t *testing.T) {
		_, errChallenge := ParseChallengeID(validUUID)
		_, errGroup := ParseGroupID(validUUID)
		_, errMember := ParseMemberID(validUUID)
		_, errTask := ParseTaskID(validUUID)

		require.NoError(t, errChallenge)
		require.NoError(t, errGroup)
		require.NoError(t, errMember)
		require.NoError(t, errTask)
	})

	for _, input := range invalidInputs {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errChallenge := ParseChallengeID(input)
			_, errGroup := ParseGroupID(input)
			_, errMember := ParseMemberID(input)
			_, errTask := ParseTaskID(input)

			require.Error(t, errChallenge)
			require.Error(t, errGroup)
			require.Error(t, errMember)
			require.Error(t, errTask)
		})
	}
}
