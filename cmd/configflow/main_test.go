package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzhHas/configflow/internal/bus"
	"github.com/xzhHas/configflow/types"
)

func TestTailLine(t *testing.T) {
	id := uuid.New()
	env, err := types.NewEnvelope(types.ConfigurationDeleted{Category: types.LogicStatement, ID: id}, uuid.Nil)
	require.NoError(t, err)

	l := tailLine(bus.Delivery{Key: id.String(), Envelope: env})
	assert.Equal(t, types.TypeDeleted, l.Type)
	assert.Equal(t, id.String(), l.ID)
	assert.Empty(t, l.TenantID)
	require.NotNil(t, l.Category)
	assert.Equal(t, types.LogicStatement, *l.Category)
}

func TestTailLineBadBody(t *testing.T) {
	l := tailLine(bus.Delivery{Envelope: types.Envelope{Type: types.TypeCreated, Body: []byte("{")}})
	assert.NotEmpty(t, l.Error)
	assert.Nil(t, l.Category)
}

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	saved := os.Args
	os.Args = append([]string{"configflow"}, args...)
	t.Cleanup(func() { os.Args = saved })
}

func TestRealMainRejectsUnknownCommand(t *testing.T) {
	withArgs(t, "-config", "", "replay")
	assert.Equal(t, 2, realMain())
}

func TestRealMainTailValidatesOnlyBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tail.toml")
	require.NoError(t, os.WriteFile(path, []byte("[bus]\ndriver = \"nats\"\ntopic = \"configuration.update\"\n"), 0o600))

	// bus.url is the only setting tail is missing
	withArgs(t, "-config", path, "tail")
	assert.Equal(t, 2, realMain())
}
