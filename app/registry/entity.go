package registry

import (
	"time"

	"github.com/modelibr/e2e/lib/modelibr"
)

// Kind names a family of registered entities. Aliases are unique within a kind.
type Kind string

// entity kinds known to the registry
const (
	KindModel         Kind = "model"
	KindTextureSet    Kind = "texture-set"
	KindSound         Kind = "sound"
	KindSoundCategory Kind = "sound-category"
	KindPack          Kind = "pack"
	KindProject       Kind = "project"
	KindSprite        Kind = "sprite"
)

// Entity is a provisioned backend entity. The set of implementations is closed,
// the unexported marker keeps other packages from adding variants.
type Entity interface {
	Kind() Kind
	EntityID() int
	DisplayName() string
	entity()
}

// Model is a registered 3D model. VersionID is zero until a version is known.
type Model struct {
	ID        int
	Name      string
	VersionID int
}

// TextureSet is a registered texture set, optionally linked to a model version.
type TextureSet struct {
	ID        int
	Name      string
	ModelID   int
	VersionID int
}

// Sound is a registered sound. CategoryID is zero for uncategorized sounds.
type Sound struct {
	ID         int
	Name       string
	FileID     int
	Duration   float64
	CategoryID int
}

// SoundCategory is a registered sound category.
type SoundCategory struct {
	ID          int
	Name        string
	Description string
}

// Pack is a registered asset pack.
type Pack struct {
	ID   int
	Name string
}

// Project is a registered project.
type Project struct {
	ID   int
	Name string
}

// Sprite is a registered sprite.
type Sprite struct {
	ID     int
	Name   string
	FileID int
}

func (Model) Kind() Kind         { return KindModel }
func (TextureSet) Kind() Kind    { return KindTextureSet }
func (Sound) Kind() Kind         { return KindSound }
func (SoundCategory) Kind() Kind { return KindSoundCategory }
func (Pack) Kind() Kind          { return KindPack }
func (Project) Kind() Kind       { return KindProject }
func (Sprite) Kind() Kind        { return KindSprite }

func (m Model) EntityID() int         { return m.ID }
func (t TextureSet) EntityID() int    { return t.ID }
func (s Sound) EntityID() int         { return s.ID }
func (c SoundCategory) EntityID() int { return c.ID }
func (p Pack) EntityID() int          { return p.ID }
func (p Project) EntityID() int       { return p.ID }
func (s Sprite) EntityID() int        { return s.ID }

func (m Model) DisplayName() string         { return m.Name }
func (t TextureSet) DisplayName() string    { return t.Name }
func (s Sound) DisplayName() string         { return s.Name }
func (c SoundCategory) DisplayName() string { return c.Name }
func (p Pack) DisplayName() string          { return p.Name }
func (p Project) DisplayName() string       { return p.Name }
func (s Sprite) DisplayName() string        { return s.Name }

func (Model) entity()         {}
func (TextureSet) entity()    {}
func (Sound) entity()         {}
func (SoundCategory) entity() {}
func (Pack) entity()          {}
func (Project) entity()       {}
func (Sprite) entity()        {}

// ThumbnailDescriptor is the persisted state of a version's thumbnail at capture time.
type ThumbnailDescriptor struct {
	Path      string
	Status    modelibr.ThumbnailStatus
	UpdatedAt time.Time
}

// VersionSnapshot pins what a model version looked like earlier in a scenario.
// Snapshots are keyed by backend version id, not by alias.
type VersionSnapshot struct {
	VersionID int
	Thumbnail ThumbnailDescriptor
	UISrc     string
}
