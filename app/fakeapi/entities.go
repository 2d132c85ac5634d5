package fakeapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/modelibr/e2e/lib/modelibr"
)

// createTextureSet stores a texture set with one texture made of up.
func (d *dataStore) createTextureSet(ctx context.Context, name string, textureType modelibr.TextureType, up upload) (modelibr.CreatedTextureSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	var res modelibr.CreatedTextureSet
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, `INSERT INTO "TextureSets" ("Name", "CreatedAt") VALUES (?, ?) RETURNING "Id"`,
			name, now).Scan(&res.TextureSetID); err != nil {
			return fmt.Errorf("insert texture set: %w", err)
		}
		if err := tx.QueryRowxContext(ctx, `INSERT INTO "Files" ("OriginalFileName", "Sha256Hash", "CreatedAt")
			VALUES (?, ?, ?) RETURNING "Id"`, up.FileName, up.hash(), now).Scan(&res.FileID); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		return nil
	})
	if err != nil {
		return modelibr.CreatedTextureSet{}, fmt.Errorf("failed to create texture set: %w", err)
	}
	res.TextureID = d.memID()
	d.textures[res.TextureSetID] = []modelibr.Texture{{ID: res.TextureID, TextureType: textureType, FileID: res.FileID, FileName: up.FileName}}
	return res, nil
}

func (d *dataStore) textureSet(ctx context.Context, id int) (modelibr.TextureSet, error) {
	var row struct {
		ID        int       `db:"Id"`
		Name      string    `db:"Name"`
		CreatedAt time.Time `db:"CreatedAt"`
	}
	if err := d.db.GetContext(ctx, &row, `SELECT "Id", "Name", "CreatedAt" FROM "TextureSets" WHERE "Id" = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return modelibr.TextureSet{}, fmt.Errorf("texture set %d: %w", id, errNotFound)
		}
		return modelibr.TextureSet{}, fmt.Errorf("failed to get texture set %d: %w", id, err)
	}
	ts := modelibr.TextureSet{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt, UpdatedAt: row.CreatedAt}
	q := `SELECT "ModelVersionId" FROM "TextureSetModelVersions" WHERE "TextureSetId" = ? ORDER BY "ModelVersionId"`
	if err := d.db.SelectContext(ctx, &ts.ModelVersionIDs, q, id); err != nil {
		return modelibr.TextureSet{}, fmt.Errorf("failed to list versions of texture set %d: %w", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	ts.Textures = append([]modelibr.Texture{}, d.textures[id]...)
	ts.TextureCount = len(ts.Textures)
	ts.IsEmpty = ts.TextureCount == 0
	return ts, nil
}

func (d *dataStore) deleteTextureSet(ctx context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx, `DELETE FROM "TextureSets" WHERE "Id" = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete texture set %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("texture set %d: %w", id, errNotFound)
	}
	delete(d.textures, id)
	for _, extra := range d.versions {
		if extra.DefaultTextureSetID != nil && *extra.DefaultTextureSetID == id {
			extra.DefaultTextureSetID = nil
		}
	}
	return nil
}

// associate links a texture set to a model version, linking twice is a no-op.
func (d *dataStore) associate(ctx context.Context, setID, versionID int) error {
	if err := d.checkLinkEnds(ctx, setID, versionID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	q := `INSERT INTO "TextureSetModelVersions" ("TextureSetId", "ModelVersionId") VALUES (?, ?) ON CONFLICT DO NOTHING`
	if _, err := d.db.ExecContext(ctx, q, setID, versionID); err != nil {
		return fmt.Errorf("failed to link texture set %d to version %d: %w", setID, versionID, err)
	}
	return nil
}

func (d *dataStore) disassociate(ctx context.Context, setID, versionID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx, `DELETE FROM "TextureSetModelVersions" WHERE "TextureSetId" = ? AND "ModelVersionId" = ?`,
		setID, versionID)
	if err != nil {
		return fmt.Errorf("failed to unlink texture set %d from version %d: %w", setID, versionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link of texture set %d and version %d: %w", setID, versionID, errNotFound)
	}
	return nil
}

func (d *dataStore) checkLinkEnds(ctx context.Context, setID, versionID int) error {
	var n int
	q := `SELECT (SELECT COUNT(*) FROM "TextureSets" WHERE "Id" = ?) + (SELECT COUNT(*) FROM "ModelVersions" WHERE "Id" = ?)`
	if err := d.db.GetContext(ctx, &n, q, setID, versionID); err != nil {
		return fmt.Errorf("failed to check link ends: %w", err)
	}
	if n < 2 {
		return fmt.Errorf("texture set %d or version %d: %w", setID, versionID, errNotFound)
	}
	return nil
}

func (d *dataStore) createSound(name string, duration float64, categoryID int, up upload) (modelibr.CreatedSound, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var cat *int
	if categoryID > 0 {
		if _, ok := d.categories[categoryID]; !ok {
			return modelibr.CreatedSound{}, fmt.Errorf("sound category %d: %w", categoryID, errBadRequest)
		}
		cat = &categoryID
	}
	if name == "" {
		name = up.baseName()
	}
	s := modelibr.Sound{ID: d.memID(), Name: name, FileID: d.memID(), Duration: duration, CategoryID: cat, CreatedAt: time.Now().UTC()}
	d.sounds[s.ID] = s
	return modelibr.CreatedSound{ID: s.ID, FileID: s.FileID}, nil
}

func (d *dataStore) sound(id int) (modelibr.Sound, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sounds[id]
	if !ok {
		return modelibr.Sound{}, fmt.Errorf("sound %d: %w", id, errNotFound)
	}
	return s, nil
}

func (d *dataStore) deleteSound(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sounds[id]; !ok {
		return fmt.Errorf("sound %d: %w", id, errNotFound)
	}
	delete(d.sounds, id)
	return nil
}

// createCategory adds a sound category. With unique set a name already taken
// (case-insensitive) is a conflict, otherwise duplicates are accepted.
func (d *dataStore) createCategory(name, description string, unique bool) (modelibr.SoundCategory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if unique {
		for _, c := range d.categories {
			if strings.EqualFold(c.Name, name) {
				return modelibr.SoundCategory{}, fmt.Errorf("sound category %q already exists: %w", name, errConflict)
			}
		}
	}
	c := modelibr.SoundCategory{ID: d.memID(), Name: name, Description: description, CreatedAt: time.Now().UTC()}
	d.categories[c.ID] = c
	return c, nil
}

func (d *dataStore) listCategories() []modelibr.SoundCategory {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]modelibr.SoundCategory, 0, len(d.categories))
	for _, id := range sortedKeys(d.categories) {
		res = append(res, d.categories[id])
	}
	return res
}

func (d *dataStore) category(id int) (modelibr.SoundCategory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.categories[id]
	if !ok {
		return modelibr.SoundCategory{}, fmt.Errorf("sound category %d: %w", id, errNotFound)
	}
	return c, nil
}

// deleteCategory removes a category, its sounds become uncategorised.
func (d *dataStore) deleteCategory(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.categories[id]; !ok {
		return fmt.Errorf("sound category %d: %w", id, errNotFound)
	}
	delete(d.categories, id)
	for sid, s := range d.sounds {
		if s.CategoryID != nil && *s.CategoryID == id {
			s.CategoryID = nil
			d.sounds[sid] = s
		}
	}
	return nil
}

func (d *dataStore) createSprite(name string, up upload) modelibr.Sprite {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "" {
		name = up.baseName()
	}
	s := modelibr.Sprite{ID: d.memID(), Name: name, FileID: d.memID()}
	d.sprites[s.ID] = s
	return s
}

func (d *dataStore) sprite(id int) (modelibr.Sprite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sprites[id]
	if !ok {
		return modelibr.Sprite{}, fmt.Errorf("sprite %d: %w", id, errNotFound)
	}
	return s, nil
}

func (d *dataStore) deleteSprite(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sprites[id]; !ok {
		return fmt.Errorf("sprite %d: %w", id, errNotFound)
	}
	delete(d.sprites, id)
	return nil
}

// collections holds packs or projects, the two share one shape.
type collections struct {
	mu     sync.Mutex
	nextID int
	items  map[int]modelibr.Collection
}

func newCollections() *collections {
	return &collections{nextID: 1, items: map[int]modelibr.Collection{}}
}

func (c *collections) create(name, description string) modelibr.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := modelibr.Collection{ID: c.nextID, Name: name, Description: description, CreatedAt: time.Now().UTC()}
	c.nextID++
	c.items[item.ID] = item
	return item
}

func (c *collections) get(id int) (modelibr.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return modelibr.Collection{}, fmt.Errorf("collection %d: %w", id, errNotFound)
	}
	return item, nil
}

func (c *collections) delete(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return fmt.Errorf("collection %d: %w", id, errNotFound)
	}
	delete(c.items, id)
	return nil
}
