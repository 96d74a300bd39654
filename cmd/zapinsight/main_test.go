package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/naperu/zapinsight/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPriorityCommand(t *testing.T) {
	out, err := run(t, "priority", "72")
	require.NoError(t, err)
	assert.Equal(t, "72% -> alta\n", out)

	out, err = run(t, "--json", "priority", "130")
	require.NoError(t, err)
	var preview service.PriorityPreview
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, 100, preview.ConversionProbability)

	_, err = run(t, "priority", "muito")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := run(t, "token", "scheduler", "--scope", "read")
	require.NoError(t, err)

	claims, err := service.NewTokenService("cli-secret").Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "scheduler", claims.Subject)
	assert.Equal(t, service.ScopeRead, claims.Scope)

	_, err = run(t, "token", "x", "--scope", "admin")
	assert.Error(t, err)
}

func TestArgumentValidation(t *testing.T) {
	_, err := run(t, "poll-contact", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid contact id")

	_, err = run(t, "requeue")
	assert.Error(t, err)

	_, err = run(t, "cache-flush", "--only", "everything")
	assert.ErrorContains(t, err, "unknown cache")
}
