package modelibr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Model is a 3D model as returned by the API.
type Model struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	ActiveVersionID int       `json:"activeVersionId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// FileInfo describes a stored file attached to a version.
type FileInfo struct {
	ID               int    `json:"id"`
	OriginalFileName string `json:"originalFileName"`
	SizeBytes        int64  `json:"sizeBytes,omitempty"`
}

// Version is a single model version.
type Version struct {
	ID                  int        `json:"id"`
	ModelID             int        `json:"modelId"`
	VersionNumber       int        `json:"versionNumber"`
	Description         string     `json:"description,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	Files               []FileInfo `json:"files"`
	DefaultTextureSetID *int       `json:"defaultTextureSetId"`
	TextureSetIDs       []int      `json:"textureSetIds"`
}

// CreatedModel is the result of a model upload. VersionID is zero when the
// server does not report the version it created.
type CreatedModel struct {
	ID            int  `json:"id"`
	VersionID     int  `json:"versionId,omitempty"`
	AlreadyExists bool `json:"alreadyExists,omitempty"`
}

// CreatedVersion is the result of a version upload.
type CreatedVersion struct {
	ID            int `json:"id"`
	VersionNumber int `json:"versionNumber,omitempty"`
}

// Thumbnail describes the thumbnail state of a model's active version.
type Thumbnail struct {
	Status       ThumbnailStatus `json:"status"`
	FileURL      string          `json:"fileUrl,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
}

// ListModels returns all models, optionally filtered by a search term.
func (c *Client) ListModels(ctx context.Context, search string) ([]Model, error) {
	path := "/models"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var models []Model
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModel retrieves a model by id.
func (c *Client) GetModel(ctx context.Context, id int) (Model, error) {
	var m Model
	if err := c.doJSON(ctx, http.MethodGet, "/models/"+strconv.Itoa(id), nil, &m); err != nil {
		return Model{}, err
	}
	return m, nil
}

// CreateModel uploads a model file; the server names the model after the file.
func (c *Client) CreateModel(ctx context.Context, filePath string) (CreatedModel, error) {
	var res CreatedModel
	if err := c.upload(ctx, "/models", filePath, nil, &res); err != nil {
		return CreatedModel{}, err
	}
	if res.ID == 0 {
		return CreatedModel{}, fmt.Errorf("create model %s: response has no id", filePath)
	}
	return res, nil
}

// DeleteModel permanently removes a model with all its versions.
func (c *Client) DeleteModel(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/models/"+strconv.Itoa(id), nil, nil)
}

// ListVersions returns all versions of a model.
func (c *Client) ListVersions(ctx context.Context, modelID int) ([]Version, error) {
	var versions []Version
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/models/%d/versions", modelID), nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// GetVersion retrieves a single version of a model.
func (c *Client) GetVersion(ctx context.Context, modelID, versionID int) (Version, error) {
	var v Version
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/models/%d/versions/%d", modelID, versionID), nil, &v); err != nil {
		return Version{}, err
	}
	return v, nil
}

// CreateVersion uploads a new version of an existing model.
// setActive must travel in the query string, the server ignores it in the form.
func (c *Client) CreateVersion(ctx context.Context, modelID int, filePath, description string, setActive bool) (CreatedVersion, error) {
	path := fmt.Sprintf("/models/%d/versions?setAsActive=%t", modelID, setActive)
	var res CreatedVersion
	if err := c.upload(ctx, path, filePath, map[string]string{"description": description}, &res); err != nil {
		return CreatedVersion{}, err
	}
	return res, nil
}

// GetThumbnail returns the thumbnail state of the model's active version.
func (c *Client) GetThumbnail(ctx context.Context, modelID int) (Thumbnail, error) {
	var th Thumbnail
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/models/%d/thumbnail", modelID), nil, &th); err != nil {
		return Thumbnail{}, err
	}
	return th, nil
}
