package modelibr

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TextureType names a PBR channel of a texture set.
type TextureType string

// known texture types
const (
	TextureAlbedo           TextureType = "Albedo"
	TextureNormal           TextureType = "Normal"
	TextureRoughness        TextureType = "Roughness"
	TextureMetallic         TextureType = "Metallic"
	TextureAmbientOcclusion TextureType = "AmbientOcclusion"
	TextureHeight           TextureType = "Height"
	TextureEmissive         TextureType = "Emissive"
	TextureOpacity          TextureType = "Opacity"
)

// Texture is a single texture inside a set.
type Texture struct {
	ID          int         `json:"id"`
	TextureType TextureType `json:"textureType"`
	FileID      int         `json:"fileId"`
	FileName    string      `json:"fileName"`
}

// TextureSet is a named group of textures.
type TextureSet struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	TextureCount    int       `json:"textureCount"`
	IsEmpty         bool      `json:"isEmpty"`
	Textures        []Texture `json:"textures"`
	ModelVersionIDs []int     `json:"modelVersionIds,omitempty"`
}

// CreatedTextureSet is the result of creating a texture set from a file.
type CreatedTextureSet struct {
	TextureSetID int `json:"textureSetId"`
	TextureID    int `json:"textureId"`
	FileID       int `json:"fileId"`
}

// CreateTextureSetWithFile creates a texture set with one initial texture.
func (c *Client) CreateTextureSetWithFile(ctx context.Context, filePath, name string, textureType TextureType) (CreatedTextureSet, error) {
	if textureType == "" {
		textureType = TextureAlbedo
	}
	var res CreatedTextureSet
	fields := map[string]string{"name": name, "textureType": string(textureType)}
	if err := c.upload(ctx, "/texture-sets/with-file", filePath, fields, &res); err != nil {
		return CreatedTextureSet{}, err
	}
	return res, nil
}

// GetTextureSet retrieves a texture set with its textures.
func (c *Client) GetTextureSet(ctx context.Context, id int) (TextureSet, error) {
	var ts TextureSet
	if err := c.doJSON(ctx, http.MethodGet, "/texture-sets/"+strconv.Itoa(id), nil, &ts); err != nil {
		return TextureSet{}, err
	}
	return ts, nil
}

// DeleteTextureSet removes a texture set.
func (c *Client) DeleteTextureSet(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/texture-sets/"+strconv.Itoa(id), nil, nil)
}

// AssociateTextureSet links a texture set to a model version.
func (c *Client) AssociateTextureSet(ctx context.Context, textureSetID, versionID int) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/texture-sets/%d/model-versions/%d", textureSetID, versionID), nil, nil)
}

// DisassociateTextureSet removes the link between a texture set and a model version.
func (c *Client) DisassociateTextureSet(ctx context.Context, textureSetID, versionID int) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/texture-sets/%d/model-versions/%d", textureSetID, versionID), nil, nil)
}

// SetDefaultTextureSet marks a texture set as the default of a model version.
// A nil textureSetID clears the default.
func (c *Client) SetDefaultTextureSet(ctx context.Context, modelID int, textureSetID *int, versionID int) error {
	body := struct {
		TextureSetID   *int `json:"textureSetId"`
		ModelVersionID int  `json:"modelVersionId"`
	}{TextureSetID: textureSetID, ModelVersionID: versionID}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/models/%d/defaultTextureSet", modelID), body, nil)
}
