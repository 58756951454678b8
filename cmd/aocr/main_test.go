package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocr/internal/config"
	"aocr/internal/domain"
)

func run(t *testing.T, ws string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--workspace", ws, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRequestCommands(t *testing.T) {
	ws := t.TempDir()

	out, err := run(t, ws, "--json", "--actor-id", "owner-1", "request", "create", "--type", "operador-aereo", "--title", "Aerolinea Sur")
	require.NoError(t, err, out)
	var req domain.Request
	require.NoError(t, json.Unmarshal([]byte(out), &req), out)
	assert.Equal(t, domain.StateDraft, req.State)
	id := fmt.Sprint(req.ID)

	out, err = run(t, ws, "--actor-id", "owner-1", "request", "transition", req.Number, "Sent", "--reason", "ready")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Sent")

	_, err = run(t, ws, "--actor-id", "fin-1", "--roles", "Financiero", "request", "transition", id, "FinanceInReview")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents submitted")

	_, err = run(t, ws, "--actor-id", "owner-1", "request", "transition", id, "Nowhere")
	require.Error(t, err)

	out, err = run(t, ws, "--json", "request", "history", id)
	require.NoError(t, err, out)
	var records []domain.TransitionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records), out)
	require.Len(t, records, 2)
	assert.Equal(t, "ready", records[1].Reason)

	out, err = run(t, ws, "request", "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, req.Number)
}

func TestRoleBootstrapAndSubflows(t *testing.T) {
	ws := t.TempDir()

	_, err := run(t, ws, "--actor-id", "admin-1", "role", "assign", "--actor", "admin-1", "--role", "Administrador")
	require.NoError(t, err)
	_, err = run(t, ws, "--actor-id", "admin-1", "role", "assign", "--actor", "fin-1", "--role", "Financiero")
	require.NoError(t, err)
	_, err = run(t, ws, "--actor-id", "fin-1", "role", "assign", "--actor", "fin-2", "--role", "Financiero")
	require.Error(t, err)

	out, err := run(t, ws, "--json", "--actor-id", "owner-1", "request", "create", "--type", "escuela-aviacion")
	require.NoError(t, err, out)
	var req domain.Request
	require.NoError(t, json.Unmarshal([]byte(out), &req))
	id := fmt.Sprint(req.ID)
	_, err = run(t, ws, "--actor-id", "owner-1", "request", "transition", id, "Sent")
	require.NoError(t, err)

	out, err = run(t, ws, "--actor-id", "owner-1", "document", "add", id, "--kind", "manual", "--name", "mom.pdf")
	require.NoError(t, err, out)
	var doc domain.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))

	out, err = run(t, ws, "--actor-id", "fin-1", "document", "review", fmt.Sprint(doc.ID), "--status", "Approved")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"outcome": "transitioned"`)

	out, err = run(t, ws, "--json", "request", "show", id)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &req))
	assert.Equal(t, domain.StateFinanceInReview, req.State)
}

func TestConfigInit(t *testing.T) {
	ws := t.TempDir()
	_, err := run(t, ws, "config", "init")
	require.NoError(t, err)
	data, err := os.ReadFile(config.Path(ws))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTemplate, string(data))

	_, err = run(t, ws, "config", "init")
	require.Error(t, err)

	out, err := run(t, ws, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")
}

func TestSystemActorIsReserved(t *testing.T) {
	ws := t.TempDir()
	out, err := run(t, ws, "--json", "--actor-id", "owner-1", "request", "create", "--type", "operador-aereo")
	require.NoError(t, err, out)
	var req domain.Request
	require.NoError(t, json.Unmarshal([]byte(out), &req))

	_, err = run(t, ws, "--actor-id", "system", "request", "transition", fmt.Sprint(req.ID), "Withdrawn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")

	_, err = run(t, ws, "--actor-id", "system", "request", "create", "--type", "operador-aereo")
	require.Error(t, err)
}
