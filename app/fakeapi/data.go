package fakeapi

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/modelibr/e2e/app/store"
	"github.com/modelibr/e2e/lib/modelibr"
)

// errors mapped to HTTP statuses by the handlers
var (
	errNotFound   = errors.New("not found")
	errConflict   = errors.New("conflict")
	errBadRequest = errors.New("bad request")
)

// upload is a file received in a multipart form.
type upload struct {
	FileName string
	Data     []byte
}

func (u upload) hash() string {
	sum := sha256.Sum256(u.Data)
	return hex.EncodeToString(sum[:])
}

// baseName is the file name without extension, the backend names models after it.
func (u upload) baseName() string {
	return strings.TrimSuffix(u.FileName, filepath.Ext(u.FileName))
}

// versionExtra keeps the version attributes the SQL schema doesn't carry.
type versionExtra struct {
	Description         string
	Files               []modelibr.FileInfo
	DefaultTextureSetID *int
}

// dataStore keeps schema entities in sqlite, where the harness' store reads them,
// and everything else in memory.
type dataStore struct {
	db *sqlx.DB

	mu         sync.Mutex // guards the maps below and serialises sql writes
	nextID     int
	versions   map[int]*versionExtra
	fileOwners map[string]int // "hash/name" -> version id, for duplicate uploads
	textures   map[int][]modelibr.Texture
	sounds     map[int]modelibr.Sound
	categories map[int]modelibr.SoundCategory
	sprites    map[int]modelibr.Sprite
	packs      *collections
	projects   *collections
}

func openData(dbPath string) (*dataStore, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open fake database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range strings.Split(store.Schema(store.DBTypeSQLite), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err = db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &dataStore{
		db:         db,
		nextID:     1,
		versions:   map[int]*versionExtra{},
		fileOwners: map[string]int{},
		textures:   map[int][]modelibr.Texture{},
		sounds:     map[int]modelibr.Sound{},
		categories: map[int]modelibr.SoundCategory{},
		sprites:    map[int]modelibr.Sprite{},
		packs:      newCollections(),
		projects:   newCollections(),
	}, nil
}

func (d *dataStore) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close fake database: %w", err)
	}
	return nil
}

// memID hands out ids for in-memory entities, callers hold mu.
func (d *dataStore) memID() int {
	id := d.nextID
	d.nextID++
	return id
}

type modelRow struct {
	ID              int       `db:"Id"`
	Name            string    `db:"Name"`
	ActiveVersionID int       `db:"ActiveVersionId"`
	CreatedAt       time.Time `db:"CreatedAt"`
}

func (r modelRow) toModel() modelibr.Model {
	return modelibr.Model{ID: r.ID, Name: r.Name, ActiveVersionID: r.ActiveVersionID, CreatedAt: r.CreatedAt, UpdatedAt: r.CreatedAt}
}

const modelColumns = `"Id", "Name", COALESCE("ActiveVersionId", 0) AS "ActiveVersionId", "CreatedAt"`

func (d *dataStore) listModels(ctx context.Context, search string) ([]modelibr.Model, error) {
	var rows []modelRow
	q := `SELECT ` + modelColumns + ` FROM "Models" WHERE "DeletedAt" IS NULL AND "Name" LIKE ? ORDER BY "Id"`
	if err := d.db.SelectContext(ctx, &rows, q, "%"+search+"%"); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	res := make([]modelibr.Model, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toModel())
	}
	return res, nil
}

func (d *dataStore) model(ctx context.Context, id int) (modelibr.Model, error) {
	var r modelRow
	q := `SELECT ` + modelColumns + ` FROM "Models" WHERE "Id" = ? AND "DeletedAt" IS NULL`
	if err := d.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return modelibr.Model{}, fmt.Errorf("model %d: %w", id, errNotFound)
		}
		return modelibr.Model{}, fmt.Errorf("failed to get model %d: %w", id, err)
	}
	return r.toModel(), nil
}

// createModel stores a model with its first version and a pending thumbnail.
// Re-uploading the same file returns the existing model.
func (d *dataStore) createModel(ctx context.Context, up upload) (res modelibr.CreatedModel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	owner := up.hash() + "/" + up.FileName
	if versionID, ok := d.fileOwners[owner]; ok {
		var modelID int
		q := `SELECT v."ModelId" FROM "ModelVersions" v JOIN "Models" m ON m."Id" = v."ModelId"
			WHERE v."Id" = ? AND m."DeletedAt" IS NULL`
		switch err = d.db.GetContext(ctx, &modelID, q, versionID); {
		case err == nil:
			return modelibr.CreatedModel{ID: modelID, VersionID: versionID, AlreadyExists: true}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return res, fmt.Errorf("failed to check duplicate upload: %w", err)
		}
		delete(d.fileOwners, owner)
	}

	now := time.Now().UTC()
	err = d.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, `INSERT INTO "Models" ("Name", "CreatedAt") VALUES (?, ?) RETURNING "Id"`,
			up.baseName(), now).Scan(&res.ID); err != nil {
			return fmt.Errorf("insert model: %w", err)
		}
		versionID, err := d.insertVersion(ctx, tx, res.ID, 1, up, now)
		if err != nil {
			return err
		}
		res.VersionID = versionID
		if _, err := tx.ExecContext(ctx, `UPDATE "Models" SET "ActiveVersionId" = ? WHERE "Id" = ?`, versionID, res.ID); err != nil {
			return fmt.Errorf("set active version: %w", err)
		}
		return nil
	})
	if err != nil {
		return modelibr.CreatedModel{}, fmt.Errorf("failed to create model: %w", err)
	}
	d.fileOwners[owner] = res.VersionID
	log.Printf("[DEBUG] created model #%d %q, version #%d", res.ID, up.baseName(), res.VersionID)
	return res, nil
}

// insertVersion adds a version row, its file and a pending thumbnail, callers hold mu.
func (d *dataStore) insertVersion(ctx context.Context, tx *sqlx.Tx, modelID, number int, up upload, now time.Time) (int, error) {
	var versionID, fileID int
	if err := tx.QueryRowxContext(ctx, `INSERT INTO "ModelVersions" ("ModelId", "VersionNumber", "CreatedAt")
		VALUES (?, ?, ?) RETURNING "Id"`, modelID, number, now).Scan(&versionID); err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.QueryRowxContext(ctx, `INSERT INTO "Files" ("OriginalFileName", "Sha256Hash", "CreatedAt")
		VALUES (?, ?, ?) RETURNING "Id"`, up.FileName, up.hash(), now).Scan(&fileID); err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO "Thumbnails" ("ModelVersionId", "Status", "CreatedAt", "UpdatedAt")
		VALUES (?, ?, ?, ?)`, versionID, int(modelibr.ThumbnailPending), now, now); err != nil {
		return 0, fmt.Errorf("insert thumbnail: %w", err)
	}
	d.versions[versionID] = &versionExtra{
		Files: []modelibr.FileInfo{{ID: fileID, OriginalFileName: up.FileName, SizeBytes: int64(len(up.Data))}},
	}
	return versionID, nil
}

// deleteModel removes a model permanently, its versions and thumbnails cascade.
func (d *dataStore) deleteModel(ctx context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var versionIDs []int
	if err := d.db.SelectContext(ctx, &versionIDs, `SELECT "Id" FROM "ModelVersions" WHERE "ModelId" = ?`, id); err != nil {
		return fmt.Errorf("failed to list versions of model %d: %w", id, err)
	}
	res, err := d.db.ExecContext(ctx, `DELETE FROM "Models" WHERE "Id" = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model %d: %w", id, errNotFound)
	}
	for _, v := range versionIDs {
		delete(d.versions, v)
	}
	log.Printf("[DEBUG] deleted model #%d with %d versions", id, len(versionIDs))
	return nil
}

type versionRow struct {
	ID            int       `db:"Id"`
	ModelID       int       `db:"ModelId"`
	VersionNumber int       `db:"VersionNumber"`
	CreatedAt     time.Time `db:"CreatedAt"`
}

func (d *dataStore) listVersions(ctx context.Context, modelID int) ([]modelibr.Version, error) {
	if _, err := d.model(ctx, modelID); err != nil {
		return nil, err
	}
	var rows []versionRow
	q := `SELECT "Id", "ModelId", "VersionNumber", "CreatedAt" FROM "ModelVersions" WHERE "ModelId" = ? ORDER BY "VersionNumber"`
	if err := d.db.SelectContext(ctx, &rows, q, modelID); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	res := make([]modelibr.Version, 0, len(rows))
	for _, r := range rows {
		v, err := d.decorateVersion(ctx, r)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func (d *dataStore) version(ctx context.Context, modelID, versionID int) (modelibr.Version, error) {
	var r versionRow
	q := `SELECT "Id", "ModelId", "VersionNumber", "CreatedAt" FROM "ModelVersions" WHERE "Id" = ? AND "ModelId" = ?`
	if err := d.db.GetContext(ctx, &r, q, versionID, modelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return modelibr.Version{}, fmt.Errorf("version %d of model %d: %w", versionID, modelID, errNotFound)
		}
		return modelibr.Version{}, fmt.Errorf("failed to get version %d: %w", versionID, err)
	}
	return d.decorateVersion(ctx, r)
}

func (d *dataStore) decorateVersion(ctx context.Context, r versionRow) (modelibr.Version, error) {
	v := modelibr.Version{ID: r.ID, ModelID: r.ModelID, VersionNumber: r.VersionNumber, CreatedAt: r.CreatedAt,
		Files: []modelibr.FileInfo{}, TextureSetIDs: []int{}}
	q := `SELECT "TextureSetId" FROM "TextureSetModelVersions" WHERE "ModelVersionId" = ? ORDER BY "TextureSetId"`
	if err := d.db.SelectContext(ctx, &v.TextureSetIDs, q, r.ID); err != nil {
		return modelibr.Version{}, fmt.Errorf("failed to list texture sets of version %d: %w", r.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if extra, ok := d.versions[r.ID]; ok {
		v.Description = extra.Description
		v.Files = append(v.Files, extra.Files...)
		v.DefaultTextureSetID = extra.DefaultTextureSetID
	}
	return v, nil
}

// createVersion adds the next version of a model.
func (d *dataStore) createVersion(ctx context.Context, modelID int, up upload, description string, setActive bool) (modelibr.CreatedVersion, error) {
	if _, err := d.model(ctx, modelID); err != nil {
		return modelibr.CreatedVersion{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var res modelibr.CreatedVersion
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		var last int
		if err := tx.GetContext(ctx, &last, `SELECT COALESCE(MAX("VersionNumber"), 0) FROM "ModelVersions" WHERE "ModelId" = ?`,
			modelID); err != nil {
			return fmt.Errorf("next version number: %w", err)
		}
		res.VersionNumber = last + 1
		id, err := d.insertVersion(ctx, tx, modelID, res.VersionNumber, up, time.Now().UTC())
		if err != nil {
			return err
		}
		res.ID = id
		if setActive {
			if _, err := tx.ExecContext(ctx, `UPDATE "Models" SET "ActiveVersionId" = ? WHERE "Id" = ?`, id, modelID); err != nil {
				return fmt.Errorf("set active version: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return modelibr.CreatedVersion{}, fmt.Errorf("failed to create version of model %d: %w", modelID, err)
	}
	d.versions[res.ID].Description = description
	d.fileOwners[up.hash()+"/"+up.FileName] = res.ID
	log.Printf("[DEBUG] created version #%d (v%d) of model #%d", res.ID, res.VersionNumber, modelID)
	return res, nil
}

// thumbnail returns the newest thumbnail row of a version.
func (d *dataStore) thumbnail(ctx context.Context, versionID int) (store.Thumbnail, error) {
	var th store.Thumbnail
	q := `SELECT "Id", "ModelVersionId", "Status", COALESCE("ThumbnailPath", '') AS "ThumbnailPath",
		COALESCE("ErrorMessage", '') AS "ErrorMessage", "CreatedAt", "UpdatedAt"
		FROM "Thumbnails" WHERE "ModelVersionId" = ? ORDER BY "CreatedAt" DESC, "Id" DESC LIMIT 1`
	if err := d.db.GetContext(ctx, &th, q, versionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Thumbnail{}, fmt.Errorf("thumbnail of version %d: %w", versionID, errNotFound)
		}
		return store.Thumbnail{}, fmt.Errorf("failed to get thumbnail of version %d: %w", versionID, err)
	}
	return th, nil
}

// setThumbnail moves the newest thumbnail row of a version to status.
func (d *dataStore) setThumbnail(ctx context.Context, versionID int, status modelibr.ThumbnailStatus, path, errMsg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := `UPDATE "Thumbnails" SET "Status" = ?, "ThumbnailPath" = NULLIF(?, ''), "ErrorMessage" = NULLIF(?, ''), "UpdatedAt" = ?
		WHERE "Id" = (SELECT "Id" FROM "Thumbnails" WHERE "ModelVersionId" = ? ORDER BY "CreatedAt" DESC, "Id" DESC LIMIT 1)`
	res, err := d.db.ExecContext(ctx, q, int(status), path, errMsg, time.Now().UTC(), versionID)
	if err != nil {
		return fmt.Errorf("failed to update thumbnail of version %d: %w", versionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thumbnail of version %d: %w", versionID, errNotFound)
	}
	return nil
}

// versionFileName returns the name of the first file of a version.
func (d *dataStore) versionFileName(versionID int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if extra, ok := d.versions[versionID]; ok && len(extra.Files) > 0 {
		return extra.Files[0].OriginalFileName
	}
	return ""
}

// setDefaultTextureSet marks (or clears, with nil) the default texture set of a model version.
func (d *dataStore) setDefaultTextureSet(ctx context.Context, modelID, versionID int, setID *int) error {
	if _, err := d.version(ctx, modelID, versionID); err != nil {
		return err
	}
	if setID != nil {
		if _, err := d.textureSet(ctx, *setID); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	extra, ok := d.versions[versionID]
	if !ok {
		extra = &versionExtra{}
		d.versions[versionID] = extra
	}
	extra.DefaultTextureSetID = setID
	return nil
}

func (d *dataStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sortedKeys returns map keys in ascending order.
func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
