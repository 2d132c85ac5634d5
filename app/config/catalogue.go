package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	schemav "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Group is a section of the fixture catalogue.
type Group string

// catalogue sections
const (
	GroupModels   Group = "models"
	GroupTextures Group = "textures"
	GroupSounds   Group = "sounds"
	GroupSprites  Group = "sprites"
)

// ErrUnknownAsset is returned for a fixture name missing from the catalogue.
var ErrUnknownAsset = errors.New("unknown fixture asset")

// Asset is one fixture file. Type is the texture type for textures,
// Duration is in seconds for sounds.
type Asset struct {
	File     string  `json:"file" yaml:"file" jsonschema:"minLength=1"`
	Type     string  `json:"type,omitempty" yaml:"type,omitempty" jsonschema:"enum=Albedo,enum=Normal,enum=Roughness,enum=Metallic,enum=AmbientOcclusion,enum=Height,enum=Emissive,enum=Opacity"`
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty" jsonschema:"minimum=0"`
}

// catalogueDoc is the on-disk layout, also the source of the catalogue's JSON schema.
type catalogueDoc struct {
	Models   map[string]Asset `json:"models,omitempty" yaml:"models"`
	Textures map[string]Asset `json:"textures,omitempty" yaml:"textures"`
	Sounds   map[string]Asset `json:"sounds,omitempty" yaml:"sounds"`
	Sprites  map[string]Asset `json:"sprites,omitempty" yaml:"sprites"`
}

var catalogueSchema = sync.OnceValues(func() (*schemav.Schema, error) {
	r := &jsonschema.Reflector{DoNotReference: true}
	data, err := json.Marshal(r.Reflect(&catalogueDoc{}))
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalogue schema: %w", err)
	}
	sch, err := schemav.CompileString("catalogue.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile catalogue schema: %w", err)
	}
	return sch, nil
})

// Catalogue maps scenario-facing fixture names to files on disk.
// Relative file paths are resolved against the catalogue's directory.
type Catalogue struct {
	dir    string
	groups map[Group]map[string]Asset
}

// LoadCatalogue reads a YAML catalogue and checks every referenced file exists.
func LoadCatalogue(path string) (*Catalogue, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from harness options
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	defer f.Close()

	c, err := ParseCatalogue(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalogue decodes and schema-checks a catalogue, resolving files against dir.
// Files are not checked for existence.
func ParseCatalogue(r io.Reader, dir string) (*Catalogue, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	var raw any
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	if raw != nil {
		if err = validateDoc(raw); err != nil {
			return nil, err
		}
	}

	var doc catalogueDoc
	if err = yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return &Catalogue{dir: dir, groups: map[Group]map[string]Asset{
		GroupModels:   doc.Models,
		GroupTextures: doc.Textures,
		GroupSounds:   doc.Sounds,
		GroupSprites:  doc.Sprites,
	}}, nil
}

// validateDoc checks a decoded YAML document against the catalogue schema.
// The document goes through JSON so numbers and maps have the shapes the validator expects.
func validateDoc(raw any) error {
	sch, err := catalogueSchema()
	if err != nil {
		return err
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to convert catalogue: %w", err)
	}
	var v any
	if err = json.Unmarshal(js, &v); err != nil {
		return fmt.Errorf("failed to convert catalogue: %w", err)
	}
	if err = sch.Validate(v); err != nil {
		return fmt.Errorf("invalid catalogue: %w", err)
	}
	return nil
}

func (c *Catalogue) validate() error {
	var errs []error
	for g, assets := range c.groups {
		for name := range assets {
			p := c.path(assets[name])
			if _, err := os.Stat(p); err != nil {
				errs = append(errs, fmt.Errorf("%s %q: %w", g, name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the asset with its file path resolved.
func (c *Catalogue) Lookup(g Group, name string) (Asset, error) {
	a, ok := c.groups[g][name]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s %q, known: %s", ErrUnknownAsset, g, name, strings.Join(c.Names(g), ", "))
	}
	a.File = c.path(a)
	return a, nil
}

// Names lists the fixture names of a group, sorted.
func (c *Catalogue) Names(g Group) []string {
	res := make([]string, 0, len(c.groups[g]))
	for name := range c.groups[g] {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

func (c *Catalogue) path(a Asset) string {
	if filepath.IsAbs(a.File) {
		return a.File
	}
	return filepath.Join(c.dir, a.File)
}

// UniqueCopy copies src into dir under a name carrying suffix, e.g. cube.glb -> cube-<suffix>.glb.
// The backend names models after the uploaded file, so this keeps names unique per run.
func UniqueCopy(src, dir, suffix string) (string, error) {
	data, err := os.ReadFile(src) //nolint:gosec // fixture path from the catalogue
	if err != nil {
		return "", fmt.Errorf("failed to read fixture: %w", err)
	}
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(filepath.Base(src), ext)
	dst := filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, suffix, ext))
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write fixture copy: %w", err)
	}
	return dst, nil
}
