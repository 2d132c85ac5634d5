// Package store reads the product database to assert on persisted state and to
// recover identifiers the API does not return. It never writes.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/modelibr/e2e/lib/modelibr"
)

// ErrNotFound is returned when a query matches no row.
var ErrNotFound = errors.New("row not found")

// DBType identifies the database engine behind the store.
type DBType int

// supported engines
const (
	DBTypeSQLite DBType = iota
	DBTypePostgres
)

func (t DBType) String() string {
	switch t {
	case DBTypePostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Model is a row of "Models".
type Model struct {
	ID              int        `db:"Id"`
	Name            string     `db:"Name"`
	ActiveVersionID *int       `db:"ActiveVersionId"`
	CreatedAt       time.Time  `db:"CreatedAt"`
	DeletedAt       *time.Time `db:"DeletedAt"`
}

// Version is a row of "ModelVersions".
type Version struct {
	ID            int       `db:"Id"`
	ModelID       int       `db:"ModelId"`
	VersionNumber int       `db:"VersionNumber"`
	CreatedAt     time.Time `db:"CreatedAt"`
}

// Thumbnail is a row of "Thumbnails".
type Thumbnail struct {
	ID             int                      `db:"Id"`
	ModelVersionID int                      `db:"ModelVersionId"`
	Status         modelibr.ThumbnailStatus `db:"Status"`
	Path           string                   `db:"ThumbnailPath"`
	ErrorMessage   string                   `db:"ErrorMessage"`
	CreatedAt      time.Time                `db:"CreatedAt"`
	UpdatedAt      time.Time                `db:"UpdatedAt"`
}

func (t Thumbnail) String() string {
	return fmt.Sprintf("thumbnail #%d of version %d, status %s", t.ID, t.ModelVersionID, t.Status)
}

// TextureSet is a row of "TextureSets".
type TextureSet struct {
	ID        int       `db:"Id"`
	Name      string    `db:"Name"`
	CreatedAt time.Time `db:"CreatedAt"`
}

// Descriptor is the part of a thumbnail row that must stay put while other versions change.
type Descriptor struct {
	Path      string
	Status    modelibr.ThumbnailStatus
	UpdatedAt time.Time
}

// Match narrows a lookup. The most specific non-zero field wins:
// VersionID, then ModelID, then Name; an empty Match picks the newest row overall.
type Match struct {
	VersionID int
	ModelID   int
	Name      string
}

func (m Match) String() string {
	switch {
	case m.VersionID > 0:
		return fmt.Sprintf("version %d", m.VersionID)
	case m.ModelID > 0:
		return fmt.Sprintf("model %d", m.ModelID)
	case m.Name != "":
		return fmt.Sprintf("model %q", m.Name)
	default:
		return "most recent upload"
	}
}

// Confidence tells how a Match was resolved. Anything below Exact may pick a row
// created by a concurrent run.
type Confidence int

// match confidence, from most to least specific
const (
	Exact Confidence = iota
	ByParent
	ByName
	MostRecent
)

func (c Confidence) String() string {
	switch c {
	case Exact:
		return "exact"
	case ByParent:
		return "by parent"
	case ByName:
		return "by name"
	default:
		return "most recent"
	}
}

// confidence returns how specific m is.
func (m Match) confidence() Confidence {
	switch {
	case m.VersionID > 0:
		return Exact
	case m.ModelID > 0:
		return ByParent
	case m.Name != "":
		return ByName
	default:
		return MostRecent
	}
}
