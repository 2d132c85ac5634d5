package modelibr

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Sound is an audio asset.
type Sound struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	FileID     int       `json:"fileId"`
	Duration   float64   `json:"duration"`
	CategoryID *int      `json:"categoryId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SoundCategory groups sounds.
type SoundCategory struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreatedSound is the result of a sound upload.
type CreatedSound struct {
	ID     int `json:"id"`
	FileID int `json:"fileId"`
}

// CreateSound uploads a sound file. A zero categoryID leaves the sound uncategorised.
func (c *Client) CreateSound(ctx context.Context, filePath, name string, duration float64, categoryID int) (CreatedSound, error) {
	fields := map[string]string{
		"name":     name,
		"duration": strconv.FormatFloat(duration, 'f', -1, 64),
	}
	if categoryID > 0 {
		fields["categoryId"] = strconv.Itoa(categoryID)
	}
	var res CreatedSound
	if err := c.upload(ctx, "/sounds", filePath, fields, &res); err != nil {
		return CreatedSound{}, err
	}
	return res, nil
}

// GetSound retrieves a sound by id.
func (c *Client) GetSound(ctx context.Context, id int) (Sound, error) {
	var s Sound
	if err := c.doJSON(ctx, http.MethodGet, "/sounds/"+strconv.Itoa(id), nil, &s); err != nil {
		return Sound{}, err
	}
	return s, nil
}

// DeleteSound removes a sound.
func (c *Client) DeleteSound(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/sounds/"+strconv.Itoa(id), nil, nil)
}

// CreateSoundCategory creates a category. Servers that enforce unique names answer ErrConflict.
func (c *Client) CreateSoundCategory(ctx context.Context, name, description string) (SoundCategory, error) {
	body := struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}{Name: name, Description: description}
	var res SoundCategory
	if err := c.doJSON(ctx, http.MethodPost, "/sound-categories", body, &res); err != nil {
		return SoundCategory{}, err
	}
	return res, nil
}

// ListSoundCategories returns all sound categories.
func (c *Client) ListSoundCategories(ctx context.Context) ([]SoundCategory, error) {
	var res []SoundCategory
	if err := c.doJSON(ctx, http.MethodGet, "/sound-categories", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetSoundCategory retrieves a category by id.
func (c *Client) GetSoundCategory(ctx context.Context, id int) (SoundCategory, error) {
	var res SoundCategory
	if err := c.doJSON(ctx, http.MethodGet, "/sound-categories/"+strconv.Itoa(id), nil, &res); err != nil {
		return SoundCategory{}, err
	}
	return res, nil
}

// DeleteSoundCategory removes a category.
func (c *Client) DeleteSoundCategory(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/sound-categories/"+strconv.Itoa(id), nil, nil)
}
