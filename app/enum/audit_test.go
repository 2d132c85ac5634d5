package enum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuditAction(t *testing.T) {
	for _, a := range AuditActionValues {
		got, err := ParseAuditAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	got, err := ParseAuditAction("DELETE")
	require.NoError(t, err)
	assert.Equal(t, AuditActionDelete, got)

	_, err = ParseAuditAction("purge")
	require.Error(t, err)
}

func TestParseAuditResult(t *testing.T) {
	got, err := ParseAuditResult("Not_Found")
	require.NoError(t, err)
	assert.Equal(t, AuditResultNotFound, got)

	_, err = ParseAuditResult("")
	require.Error(t, err)
}
