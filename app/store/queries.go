package store

import (
	"context"
	"fmt"
)

const thumbnailColumns = `t."Id", t."ModelVersionId", t."Status", COALESCE(t."ThumbnailPath", '') AS "ThumbnailPath",
	COALESCE(t."ErrorMessage", '') AS "ErrorMessage", t."CreatedAt", t."UpdatedAt"`

// Model returns the model with id.
func (s *Store) Model(ctx context.Context, id int) (Model, error) {
	var m Model
	q := `SELECT "Id", "Name", "ActiveVersionId", "CreatedAt", "DeletedAt" FROM "Models" WHERE "Id" = ?`
	if err := s.get(ctx, &m, q, id); err != nil {
		return Model{}, fmt.Errorf("model %d: %w", id, err)
	}
	return m, nil
}

// Version returns the model version with id.
func (s *Store) Version(ctx context.Context, id int) (Version, error) {
	var v Version
	q := `SELECT "Id", "ModelId", "VersionNumber", "CreatedAt" FROM "ModelVersions" WHERE "Id" = ?`
	if err := s.get(ctx, &v, q, id); err != nil {
		return Version{}, fmt.Errorf("version %d: %w", id, err)
	}
	return v, nil
}

// ThumbnailByVersion returns the newest thumbnail row of a model version.
func (s *Store) ThumbnailByVersion(ctx context.Context, versionID int) (Thumbnail, error) {
	th, _, err := s.LatestThumbnail(ctx, Match{VersionID: versionID})
	return th, err
}

// VersionSnapshot captures the thumbnail descriptor of a version.
func (s *Store) VersionSnapshot(ctx context.Context, versionID int) (Descriptor, error) {
	th, err := s.ThumbnailByVersion(ctx, versionID)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Path: th.Path, Status: th.Status, UpdatedAt: th.UpdatedAt}, nil
}

// TextureSetIDsForVersion lists the texture sets linked to a model version.
func (s *Store) TextureSetIDsForVersion(ctx context.Context, versionID int) ([]int, error) {
	ids := []int{}
	q := `SELECT "TextureSetId" FROM "TextureSetModelVersions" WHERE "ModelVersionId" = ? ORDER BY "TextureSetId"`
	if err := s.db.SelectContext(ctx, &ids, s.adoptQuery(q), versionID); err != nil {
		return nil, fmt.Errorf("texture sets of version %d: %w", versionID, err)
	}
	return ids, nil
}

// LatestThumbnail returns the newest thumbnail row for m, with the confidence of the match.
func (s *Store) LatestThumbnail(ctx context.Context, m Match) (Thumbnail, Confidence, error) {
	conf := m.confidence()
	var q string
	var args []any
	switch conf {
	case Exact:
		q = `SELECT ` + thumbnailColumns + ` FROM "Thumbnails" t WHERE t."ModelVersionId" = ?`
		args = []any{m.VersionID}
	case ByParent:
		q = `SELECT ` + thumbnailColumns + ` FROM "Thumbnails" t
			JOIN "ModelVersions" mv ON mv."Id" = t."ModelVersionId" WHERE mv."ModelId" = ?`
		args = []any{m.ModelID}
	case ByName:
		q = `SELECT ` + thumbnailColumns + ` FROM "Thumbnails" t
			JOIN "ModelVersions" mv ON mv."Id" = t."ModelVersionId"
			JOIN "Models" m ON m."Id" = mv."ModelId" WHERE m."Name" = ?`
		args = []any{m.Name}
	default:
		q = `SELECT ` + thumbnailColumns + ` FROM "Thumbnails" t`
	}
	q += ` ORDER BY t."CreatedAt" DESC, t."Id" DESC LIMIT 1`

	var th Thumbnail
	if err := s.get(ctx, &th, q, args...); err != nil {
		return Thumbnail{}, conf, fmt.Errorf("thumbnail for %s: %w", m, err)
	}
	return th, conf, nil
}

// LatestVersion returns the newest model version for m, with the confidence of the match.
func (s *Store) LatestVersion(ctx context.Context, m Match) (Version, Confidence, error) {
	const cols = `mv."Id", mv."ModelId", mv."VersionNumber", mv."CreatedAt"`
	conf := m.confidence()
	var q string
	var args []any
	switch conf {
	case Exact:
		q = `SELECT ` + cols + ` FROM "ModelVersions" mv WHERE mv."Id" = ?`
		args = []any{m.VersionID}
	case ByParent:
		q = `SELECT ` + cols + ` FROM "ModelVersions" mv WHERE mv."ModelId" = ?`
		args = []any{m.ModelID}
	case ByName:
		q = `SELECT ` + cols + ` FROM "ModelVersions" mv
			JOIN "Models" m ON m."Id" = mv."ModelId" WHERE m."Name" = ?`
		args = []any{m.Name}
	default:
		q = `SELECT ` + cols + ` FROM "ModelVersions" mv`
	}
	q += ` ORDER BY mv."CreatedAt" DESC, mv."Id" DESC LIMIT 1`

	var v Version
	if err := s.get(ctx, &v, q, args...); err != nil {
		return Version{}, conf, fmt.Errorf("version for %s: %w", m, err)
	}
	return v, conf, nil
}

// LatestTextureSet returns the newest texture set called name.
func (s *Store) LatestTextureSet(ctx context.Context, name string) (TextureSet, error) {
	var ts TextureSet
	q := `SELECT "Id", "Name", "CreatedAt" FROM "TextureSets" WHERE "Name" = ? ORDER BY "CreatedAt" DESC, "Id" DESC LIMIT 1`
	if err := s.get(ctx, &ts, q, name); err != nil {
		return TextureSet{}, fmt.Errorf("texture set %q: %w", name, err)
	}
	return ts, nil
}
