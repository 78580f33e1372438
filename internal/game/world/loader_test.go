package world_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/townworks/internal/game/world"
)

const valleyYAML = `
world:
  name: valley
  fills:
    - from: {x: 0, y: 0, z: 0}
      size: {x: 4, y: 1, z: 4}
      material: cobblestone
  blocks:
    - at: {x: 1, y: 1, z: 1}
      material: oak_log
    - at: {x: 0, y: 0, z: 0}
      material: air
  containers:
    - at: {x: 2, y: 1, z: 2}
      slots: 3
      items:
        - item_id: wheat
          quantity: 12
        - item_id: iron_pickaxe
          quantity: 1
          durability: 40
          max_durability: 250
`

func TestLoadWorldFromBytes(t *testing.T) {
	w, err := world.LoadWorldFromBytes([]byte(valleyYAML))
	require.NoError(t, err)

	assert.Equal(t, "valley", w.Name())
	assert.Equal(t, world.Material("COBBLESTONE"), w.BlockAt(world.Vec3{X: 3, Z: 3}))
	assert.Equal(t, world.Air, w.BlockAt(world.Vec3{}))
	assert.Equal(t, world.Material("OAK_LOG"), w.BlockAt(world.Vec3{X: 1, Y: 1, Z: 1}))

	chest, ok := w.ContainerAt(world.Vec3{X: 2, Y: 1, Z: 2})
	require.True(t, ok)
	assert.Equal(t, 3, chest.Size())
	assert.Equal(t, 12, chest.Count("WHEAT"))
	pick := chest.Slot(1)
	assert.True(t, pick.IsTool())
	assert.Equal(t, 40, pick.Durability)
	assert.Equal(t, world.ChestMaterial, w.BlockAt(world.Vec3{X: 2, Y: 1, Z: 2}))
}

func TestLoadWorldFromBytes_Invalid(t *testing.T) {
	cases := map[string]string{
		"not yaml":      "world: [",
		"no name":       "world:\n  fills: []\n",
		"fill material": "world:\n  name: a\n  fills:\n    - size: {x: 1, y: 1, z: 1}\n",
		"no slots":      "world:\n  name: a\n  containers:\n    - at: {x: 0, y: 0, z: 0}\n",
		"overfull":      "world:\n  name: a\n  containers:\n    - slots: 1\n      items:\n        - {item_id: a, quantity: 1}\n        - {item_id: b, quantity: 1}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := world.LoadWorldFromBytes([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWorldsFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "valley.yaml"), []byte(valleyYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.yml"), []byte("world:\n  name: plain\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	worlds, err := world.LoadWorldsFromDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, w := range worlds {
		names = append(names, w.Name())
	}
	assert.ElementsMatch(t, []string{"valley", "plain"}, names)
}

func TestLoadWorldsFromDir_Duplicate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("world:\n  name: same\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("world:\n  name: same\n"), 0o644))
	_, err := world.LoadWorldsFromDir(dir)
	assert.ErrorContains(t, err, "same")
}

func TestLoadWorldsFromDir_Missing(t *testing.T) {
	_, err := world.LoadWorldsFromDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
