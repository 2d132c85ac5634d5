package fakeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelibr/e2e/app/enum"
	"github.com/modelibr/e2e/lib/modelibr"
)

func (e testEnv) queryAudit(t *testing.T, body string) (auditQueryResponse, int) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/audit/query", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res auditQueryResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	}
	return res, resp.StatusCode
}

func TestServer_Audit(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	created, err := env.client.CreateModel(ctx, env.asset(t, "cube.glb", "glTF cube"))
	require.NoError(t, err)
	_, err = env.client.GetModel(ctx, created.ID)
	require.NoError(t, err)
	_, err = env.client.GetModel(ctx, created.ID+100)
	require.ErrorIs(t, err, modelibr.ErrNotFound)
	require.NoError(t, env.client.DeleteModel(ctx, created.ID))

	t.Run("all", func(t *testing.T) {
		res, status := env.queryAudit(t, `{}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 4, res.Total, "audit queries are not recorded")
		require.Len(t, res.Entries, 4)
		assert.Equal(t, enum.AuditActionDelete, res.Entries[0].Action, "newest first")
		assert.Equal(t, enum.AuditActionCreate, res.Entries[3].Action)
		assert.Equal(t, http.StatusCreated, res.Entries[3].Status)
		assert.Positive(t, res.Entries[3].Size)
		assert.Equal(t, auditMaxLimit, res.Limit)
	})

	t.Run("filters", func(t *testing.T) {
		res, _ := env.queryAudit(t, `{"result":"not_found"}`)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, http.MethodGet, res.Entries[0].Method)

		res, _ = env.queryAudit(t, `{"path":"/models/*","action":"read"}`)
		assert.Equal(t, 2, res.Total)

		res, _ = env.queryAudit(t, `{"path":"/models"}`)
		assert.Equal(t, 1, res.Total, "exact path")

		res, _ = env.queryAudit(t, `{"limit":1}`)
		assert.Len(t, res.Entries, 1)
		assert.Equal(t, 4, res.Total)

		res, _ = env.queryAudit(t, `{"from":"`+time.Now().Add(time.Hour).Format(time.RFC3339)+`"}`)
		assert.Empty(t, res.Entries)
		assert.NotNil(t, res.Entries)
	})

	t.Run("bad queries", func(t *testing.T) {
		for _, body := range []string{`{`, `{"action":"purge"}`, `{"result":"maybe"}`, `{"to":"yesterday"}`} {
			_, status := env.queryAudit(t, body)
			assert.Equal(t, http.StatusBadRequest, status, body)
		}
	})
}

func TestServer_AuditDenied(t *testing.T) {
	env := newTestEnv(t, Config{Token: "secret"})
	_, err := env.client.ListModels(context.Background(), "")
	require.ErrorIs(t, err, modelibr.ErrUnauthorized)

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/audit/query", strings.NewReader(`{"result":"denied"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res auditQueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Len(t, res.Entries, 1)
	assert.Equal(t, http.StatusUnauthorized, res.Entries[0].Status)
}

func TestAuditLog_Capacity(t *testing.T) {
	a := newAuditLog(3)
	for i := range 5 {
		a.add(AuditEntry{Path: "/p", Status: 200 + i})
	}
	res, total := a.query(auditQuery{Limit: 10})
	assert.Equal(t, 3, total)
	require.Len(t, res, 3)
	assert.Equal(t, 204, res[0].Status)
	assert.Equal(t, 202, res[2].Status)
}

func TestAuditResult(t *testing.T) {
	tests := map[int]enum.AuditResult{
		http.StatusOK:                  enum.AuditResultSuccess,
		http.StatusCreated:             enum.AuditResultSuccess,
		http.StatusUnauthorized:        enum.AuditResultDenied,
		http.StatusForbidden:           enum.AuditResultDenied,
		http.StatusNotFound:            enum.AuditResultNotFound,
		http.StatusConflict:            enum.AuditResultConflict,
		http.StatusBadRequest:          enum.AuditResultInvalid,
		http.StatusInternalServerError: enum.AuditResultError,
	}
	for status, want := range tests {
		assert.Equal(t, want, auditResult(status), "status %d", status)
	}
}
