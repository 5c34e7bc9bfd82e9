package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type persisterState struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	for name, codec := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			p := NewPersister[persisterState]("state", codec)

			assert.False(t, p.Exists(dir))
			require.NoError(t, p.Save(dir, &persisterState{Label: name, Value: 42}))
			assert.True(t, p.Exists(dir))

			restored, err := p.Load(dir)
			require.NoError(t, err)
			assert.Equal(t, &persisterState{Label: name, Value: 42}, restored)
		})
	}
}

func TestPersister_Remove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[persisterState]("state", NewJSONCodec())

	require.NoError(t, p.Remove(dir))
	require.NoError(t, p.Save(dir, &persisterState{Label: "x"}))
	require.NoError(t, p.Remove(dir))
	assert.NoFileExists(t, p.Path(dir))
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewPersister[persisterState]("missing", NewJSONCodec()).Load(t.TempDir())
	assert.Error(t, err)
}

func TestPersister_SaveInvalidDir(t *testing.T) {
	t.Parallel()

	err := NewPersister[persisterState]("state", NewJSONCodec()).Save("/nonexistent/path", &persisterState{Label: "x"})
	assert.Error(t, err)
}
