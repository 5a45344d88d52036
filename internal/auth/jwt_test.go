package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseRoundTrip(t *testing.T) {
	agentID, companyID := uuid.New(), uuid.New()

	token, err := GenerateToken(agentID, companyID, "agent@acme.test", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, agentID, claims.AgentID)
	assert.Equal(t, companyID, claims.CompanyID)
	assert.Equal(t, "agent@acme.test", claims.Email)
	assert.Equal(t, "chatflow", claims.Issuer)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken(uuid.New(), uuid.New(), "a@b.test", "secret", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := GenerateToken(uuid.New(), uuid.New(), "a@b.test", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, "secret")
	assert.Error(t, err)
}
