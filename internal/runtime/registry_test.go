package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

func TestRegistrySeedsBuiltinType(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.Types(), TypeEngineJSON)
}

func TestRegistryCreateAndLoad(t *testing.T) {
	r := NewRegistry()
	graphJSON, names := denseJSON(t, false, "")

	m, err := r.Create(TypeEngineJSON, "dense_unit", graphJSON, names)
	require.NoError(t, err)
	require.NoError(t, m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{3, 4})}))

	data, err := m.SaveToBinary()
	require.NoError(t, err)

	loaded, err := r.Load(TypeEngineJSON, data)
	require.NoError(t, err)
	assert.Equal(t, "dense_unit", loaded.Symbol())
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("mystery", "sym", "{}", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module type")

	_, err = r.Load("mystery", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module type")
}

func TestRegistryRegisterCustomType(t *testing.T) {
	r := NewRegistry()

	var created string
	r.Register("traced", func(symbol, graphJSON string, constNames []string, opts ...Option) (*Module, error) {
		created = symbol
		return CreateModule(symbol, graphJSON, constNames, opts...)
	}, LoadModuleFromBinary)

	graphJSON, names := denseJSON(t, false, "")
	_, err := r.Create("traced", "dense_unit", graphJSON, names)
	require.NoError(t, err)
	assert.Equal(t, "dense_unit", created)
}

// Two registries do not share state: each compiler session owns its
// own instance.
func TestRegistryInstancesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.Register("session_local", CreateModule, LoadModuleFromBinary)
	assert.Contains(t, a.Types(), "session_local")
	assert.NotContains(t, b.Types(), "session_local")
}
