package modelibr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ThumbnailStatus is the state of the thumbnail generation pipeline for a model version.
// Numeric values match the codes stored by the backend.
type ThumbnailStatus int

// thumbnail pipeline states
const (
	ThumbnailPending ThumbnailStatus = iota
	ThumbnailProcessing
	ThumbnailReady
	ThumbnailFailed
)

var thumbnailStatusNames = map[ThumbnailStatus]string{
	ThumbnailPending:    "Pending",
	ThumbnailProcessing: "Processing",
	ThumbnailReady:      "Ready",
	ThumbnailFailed:     "Failed",
}

// String returns the status name as the backend spells it.
func (s ThumbnailStatus) String() string {
	if name, ok := thumbnailStatusNames[s]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether the pipeline will not move out of this state on its own.
func (s ThumbnailStatus) Terminal() bool {
	return s == ThumbnailReady || s == ThumbnailFailed
}

// ParseThumbnailStatus converts a status name (case-insensitive) or numeric code.
func ParseThumbnailStatus(v string) (ThumbnailStatus, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		s := ThumbnailStatus(n)
		if _, ok := thumbnailStatusNames[s]; !ok {
			return 0, fmt.Errorf("unknown thumbnail status code %d", n)
		}
		return s, nil
	}
	for s, name := range thumbnailStatusNames {
		if strings.EqualFold(name, v) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown thumbnail status %q", v)
}

// MarshalJSON encodes the status as its name.
func (s ThumbnailStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts both the numeric code and the name.
func (s *ThumbnailStatus) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode thumbnail status: %w", err)
	}
	var parsed ThumbnailStatus
	var err error
	switch v := raw.(type) {
	case float64:
		parsed, err = ParseThumbnailStatus(strconv.Itoa(int(v)))
	case string:
		parsed, err = ParseThumbnailStatus(v)
	default:
		err = fmt.Errorf("unexpected thumbnail status %s", string(data))
	}
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
