package category

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xzhHas/configflow/types"
)

func TestNewMatchingSets(t *testing.T) {
	r, err := New(map[string]types.Category{
		"envsensors":      types.EnvironmentalSensor,
		"logicstatements": types.LogicStatement,
	}, []string{"logicstatements", "envsensors"})
	require.NoError(t, err)

	c, ok := r.Resolve("logicstatements")
	assert.True(t, ok)
	assert.Equal(t, types.LogicStatement, c)
	assert.Equal(t, []string{"envsensors", "logicstatements"}, r.Collections())

	_, ok = r.Resolve("intersections")
	assert.False(t, ok)
}

func TestNewNamesEveryMismatch(t *testing.T) {
	_, err := New(map[string]types.Category{
		"envsensors": types.EnvironmentalSensor,
		"rsus":       types.LogicStatement,
	}, []string{"envsensors", "logicstatements", "signals"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMappingMismatch))
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{"logicstatements", "rsus", "signals"}, me.Missing)
	assert.Contains(t, err.Error(), "logicstatements,rsus,signals")
}

func TestNewEmpty(t *testing.T) {
	r, err := New(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Collections())
}

func TestFromConfig(t *testing.T) {
	cfg := types.Config{
		WatchCollections: []string{"EnvironmentalSensor", "LogicStatement"},
		Collections: map[string]string{
			"EnvironmentalSensor": "envsensors",
			"LogicStatement":      "logicstatements",
		},
	}
	r, err := FromConfig(cfg)
	require.NoError(t, err)
	c, ok := r.Resolve("envsensors")
	assert.True(t, ok)
	assert.Equal(t, types.EnvironmentalSensor, c)
}

func TestFromConfigWatchSubset(t *testing.T) {
	cfg := types.Config{
		WatchCollections: []string{"LogicStatement"},
		Collections: map[string]string{
			"EnvironmentalSensor": "envsensors",
			"LogicStatement":      "logicstatements",
		},
	}
	_, err := FromConfig(cfg)
	assert.True(t, errors.Is(err, ErrMappingMismatch))
}

func TestFromConfigMissingCollectionName(t *testing.T) {
	cfg := types.Config{
		WatchCollections: []string{"LogicStatement"},
		Collections:      map[string]string{"LogicStatement": "logicstatements"},
	}
	_, err := FromConfig(cfg)
	assert.True(t, errors.Is(err, types.ErrConfigMissing))
	assert.Contains(t, err.Error(), "collections.EnvironmentalSensor")
}
