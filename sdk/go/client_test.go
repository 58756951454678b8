package aocrsdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocr/internal/app"
	"aocr/internal/server"
	aocrsdk "aocr/sdk/go"
)

const secret = "sdk-secret"

func newClient(t *testing.T, srvURL, actor string, roles ...string) *aocrsdk.Client {
	t.Helper()
	token, err := server.SignToken(secret, actor, roles, time.Hour)
	require.NoError(t, err)
	c := aocrsdk.New(srvURL)
	c.BearerToken = token
	return c
}

func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	handler, err := server.New(server.Config{
		Engine:  a.Engine,
		Flows:   a.Flows,
		Roles:   a.Roles,
		Metrics: a.Metrics,
		Auth:    server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	owner := newClient(t, ts.URL, "owner-1")
	fin := newClient(t, ts.URL, "fin-1", "Financiero")

	req, err := owner.CreateRequest(ctx, "operador-aereo", "Aerolinea Sur", "")
	require.NoError(t, err)
	assert.Equal(t, "Draft", req.State)
	assert.Equal(t, "owner-1", req.OwnerID)

	byNumber, err := owner.GetRequestByNumber(ctx, req.Number)
	require.NoError(t, err)
	assert.Equal(t, req.ID, byNumber.ID)

	opts, err := owner.Available(ctx, req.ID)
	require.NoError(t, err)
	require.NotEmpty(t, opts)

	res, err := owner.Transition(ctx, req.ID, "Sent", "ready")
	require.NoError(t, err)
	assert.Equal(t, "Sent", res.Request.State)
	assert.Equal(t, "ready", res.Record.Reason)

	_, err = fin.Transition(ctx, req.ID, "FinanceInReview", "")
	var apiErr *aocrsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "gate_failed", apiErr.Code)
	assert.False(t, aocrsdk.IsConflict(err))

	history, err := owner.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].From)
	assert.Equal(t, "Sent", history[1].To)

	page, err := owner.ListRequests(ctx, aocrsdk.ListOptions{State: "Sent", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	_, err = owner.GetRequest(ctx, 9999)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	anon := aocrsdk.New(ts.URL)
	_, err = anon.GetRequest(ctx, req.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestDecodeRetryAfter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"concurrent_modification","message":"request changed concurrently"}}`))
	}))
	defer ts.Close()

	_, err := aocrsdk.New(ts.URL).Transition(context.Background(), 1, "Sent", "")
	require.True(t, aocrsdk.IsConflict(err))
	var apiErr *aocrsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, time.Second, apiErr.RetryAfter)
	assert.Equal(t, "request changed concurrently", apiErr.Message)
}
