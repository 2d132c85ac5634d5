package store

import "strings"

// Schema returns DDL for the subset of the product schema the store reads.
// The store never runs it; the fake backend and tests use it to lay out a database.
func Schema(t DBType) string {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	if t == DBTypePostgres {
		id, ts = "SERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	return strings.NewReplacer("{id}", id, "{ts}", ts).Replace(schemaTemplate)
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS "Models" (
	"Id" {id},
	"Name" TEXT NOT NULL,
	"ActiveVersionId" INTEGER NULL,
	"CreatedAt" {ts} NOT NULL,
	"DeletedAt" {ts} NULL
);
CREATE TABLE IF NOT EXISTS "ModelVersions" (
	"Id" {id},
	"ModelId" INTEGER NOT NULL REFERENCES "Models"("Id") ON DELETE CASCADE,
	"VersionNumber" INTEGER NOT NULL,
	"CreatedAt" {ts} NOT NULL
);
CREATE TABLE IF NOT EXISTS "Thumbnails" (
	"Id" {id},
	"ModelVersionId" INTEGER NOT NULL REFERENCES "ModelVersions"("Id") ON DELETE CASCADE,
	"Status" INTEGER NOT NULL,
	"ThumbnailPath" TEXT NULL,
	"ErrorMessage" TEXT NULL,
	"CreatedAt" {ts} NOT NULL,
	"UpdatedAt" {ts} NOT NULL
);
CREATE TABLE IF NOT EXISTS "Files" (
	"Id" {id},
	"OriginalFileName" TEXT NOT NULL,
	"Sha256Hash" TEXT NOT NULL,
	"CreatedAt" {ts} NOT NULL
);
CREATE TABLE IF NOT EXISTS "TextureSets" (
	"Id" {id},
	"Name" TEXT NOT NULL,
	"CreatedAt" {ts} NOT NULL
);
CREATE TABLE IF NOT EXISTS "TextureSetModelVersions" (
	"TextureSetId" INTEGER NOT NULL REFERENCES "TextureSets"("Id") ON DELETE CASCADE,
	"ModelVersionId" INTEGER NOT NULL REFERENCES "ModelVersions"("Id") ON DELETE CASCADE,
	PRIMARY KEY ("TextureSetId", "ModelVersionId")
);
`
