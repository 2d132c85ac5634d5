package modelibr

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Collection is the shape shared by packs and projects.
type Collection struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Sprite is a 2D image asset.
type Sprite struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	FileID int    `json:"fileId"`
}

type createCollection struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreatePack creates a pack.
func (c *Client) CreatePack(ctx context.Context, name, description string) (Collection, error) {
	return c.createCollection(ctx, "/packs", name, description)
}

// GetPack retrieves a pack by id.
func (c *Client) GetPack(ctx context.Context, id int) (Collection, error) {
	return c.getCollection(ctx, "/packs/", id)
}

// DeletePack removes a pack.
func (c *Client) DeletePack(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/packs/"+strconv.Itoa(id), nil, nil)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Collection, error) {
	return c.createCollection(ctx, "/projects", name, description)
}

// GetProject retrieves a project by id.
func (c *Client) GetProject(ctx context.Context, id int) (Collection, error) {
	return c.getCollection(ctx, "/projects/", id)
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/projects/"+strconv.Itoa(id), nil, nil)
}

// CreateSprite uploads an image as a sprite.
func (c *Client) CreateSprite(ctx context.Context, filePath, name string) (Sprite, error) {
	var res Sprite
	if err := c.upload(ctx, "/sprites", filePath, map[string]string{"name": name}, &res); err != nil {
		return Sprite{}, err
	}
	return res, nil
}

// GetSprite retrieves a sprite by id.
func (c *Client) GetSprite(ctx context.Context, id int) (Sprite, error) {
	var res Sprite
	if err := c.doJSON(ctx, http.MethodGet, "/sprites/"+strconv.Itoa(id), nil, &res); err != nil {
		return Sprite{}, err
	}
	return res, nil
}

// DeleteSprite removes a sprite.
func (c *Client) DeleteSprite(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/sprites/"+strconv.Itoa(id), nil, nil)
}

func (c *Client) createCollection(ctx context.Context, path, name, description string) (Collection, error) {
	var res Collection
	if err := c.doJSON(ctx, http.MethodPost, path, createCollection{Name: name, Description: description}, &res); err != nil {
		return Collection{}, err
	}
	return res, nil
}

func (c *Client) getCollection(ctx context.Context, prefix string, id int) (Collection, error) {
	var res Collection
	if err := c.doJSON(ctx, http.MethodGet, prefix+strconv.Itoa(id), nil, &res); err != nil {
		return Collection{}, err
	}
	return res, nil
}
