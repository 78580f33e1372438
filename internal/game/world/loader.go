package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlLayoutFile is the top-level YAML structure for world layout files.
type yamlLayoutFile struct {
	World yamlLayout `yaml:"world"`
}

type yamlLayout struct {
	Name       string          `yaml:"name"`
	Fills      []yamlFill      `yaml:"fills"`
	Blocks     []yamlBlock     `yaml:"blocks"`
	Containers []yamlContainer `yaml:"containers"`
}

type yamlFill struct {
	From     Vec3   `yaml:"from"`
	Size     Vec3   `yaml:"size"`
	Material string `yaml:"material"`
}

type yamlBlock struct {
	At       Vec3   `yaml:"at"`
	Material string `yaml:"material"`
}

type yamlContainer struct {
	At    Vec3        `yaml:"at"`
	Slots int         `yaml:"slots"`
	Items []ItemStack `yaml:"items"`
}

// LoadWorldFromFile reads a single world layout YAML file.
//
// Precondition: path must point to a valid YAML layout file.
// Postcondition: Returns a populated MemoryWorld or a non-nil error.
func LoadWorldFromFile(path string) (*MemoryWorld, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file %s: %w", path, err)
	}
	return LoadWorldFromBytes(data)
}

// LoadWorldFromBytes builds a MemoryWorld from layout YAML. Fills are applied
// first, then single blocks, then containers.
//
// Postcondition: Returns a populated MemoryWorld or a non-nil error.
func LoadWorldFromBytes(data []byte) (*MemoryWorld, error) {
	var file yamlLayoutFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing world YAML: %w", err)
	}
	l := file.World
	if strings.TrimSpace(l.Name) == "" {
		return nil, fmt.Errorf("validating world: name must not be empty")
	}

	w := NewMemoryWorld(l.Name)
	for i, f := range l.Fills {
		if f.Material == "" {
			return nil, fmt.Errorf("world %s: fill %d has no material", l.Name, i)
		}
		w.Fill(NewBox(f.From, f.Size), Material(strings.ToUpper(f.Material)))
	}
	for _, b := range l.Blocks {
		w.SetBlock(b.At, Material(strings.ToUpper(b.Material)))
	}
	for i, c := range l.Containers {
		if c.Slots < 1 {
			return nil, fmt.Errorf("world %s: container %d at %s needs at least one slot", l.Name, i, c.At)
		}
		if len(c.Items) > c.Slots {
			return nil, fmt.Errorf("world %s: container at %s holds %d stacks in %d slots", l.Name, c.At, len(c.Items), c.Slots)
		}
		chest := w.PlaceContainer(c.At, c.Slots)
		for slot, it := range c.Items {
			it.ItemID = strings.ToUpper(it.ItemID)
			chest.SetSlot(slot, it)
		}
	}
	return w, nil
}

// LoadWorldsFromDir loads every YAML file in dir as a world.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all worlds or the first error encountered; duplicate names are an error.
func LoadWorldsFromDir(dir string) ([]*MemoryWorld, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading world directory %s: %w", dir, err)
	}

	var worlds []*MemoryWorld
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		w, err := LoadWorldFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading world from %s: %w", name, err)
		}
		if prev, dup := seen[w.Name()]; dup {
			return nil, fmt.Errorf("world %q defined in both %s and %s", w.Name(), prev, name)
		}
		seen[w.Name()] = name
		worlds = append(worlds, w)
	}
	return worlds, nil
}
