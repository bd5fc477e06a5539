package rpigpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevModeDriver(t *testing.T) {
	d, err := New(map[string]int{"valve": 17, "button": 21}, true)
	require.NoError(t, err)
	defer d.Close()

	out, err := d.OutputPin("valve")
	require.NoError(t, err)
	assert.Equal(t, "valve", out.Name())
	assert.Equal(t, 17, out.Number())

	require.NoError(t, out.Write(true))
	assert.True(t, out.LastState())
	require.NoError(t, out.Write(false))
	assert.False(t, out.LastState())

	in, err := d.InputPin("button")
	require.NoError(t, err)
	v, err := in.Read()
	require.NoError(t, err)
	assert.False(t, v)
}

func TestUnknownPinName(t *testing.T) {
	d, err := New(map[string]int{"valve": 17}, true)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.OutputPin("pump")
	assert.Error(t, err)
	_, err = d.InputPin("pump")
	assert.Error(t, err)
}

func TestPinNumberOutOfRange(t *testing.T) {
	_, err := New(map[string]int{"valve": 54}, true)
	assert.Error(t, err)
}
