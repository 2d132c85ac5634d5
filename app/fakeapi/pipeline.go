package fakeapi

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"github.com/go-pkgz/lcw/v2"
	log "github.com/go-pkgz/lgr"

	"github.com/modelibr/e2e/lib/modelibr"
)

// failMarker in an uploaded file name makes its thumbnail fail.
const failMarker = "fail"

// startPipeline renders the thumbnail of a new version in the background.
func (s *Server) startPipeline(versionID int, fileName string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPipeline(s.ctx, versionID, fileName)
	}()
}

// runPipeline moves the version's thumbnail Pending -> Processing -> Ready (or Failed),
// one step per pipelineStep, publishing each transition on the hub.
func (s *Server) runPipeline(ctx context.Context, versionID int, fileName string) {
	type step struct {
		status modelibr.ThumbnailStatus
		path   string
		errMsg string
	}
	steps := []step{{status: modelibr.ThumbnailProcessing}}
	if strings.Contains(strings.ToLower(fileName), failMarker) {
		steps = append(steps, step{status: modelibr.ThumbnailFailed, errMsg: "failed to render " + fileName})
	} else {
		steps = append(steps, step{status: modelibr.ThumbnailReady, path: fmt.Sprintf("thumbnails/%d.png", versionID)})
	}

	for _, st := range steps {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pipelineStep()):
		}
		if err := s.data.setThumbnail(ctx, versionID, st.status, st.path, st.errMsg); err != nil {
			log.Printf("[WARN] thumbnail pipeline of version %d: %v", versionID, err)
			return
		}
		if st.path != "" {
			s.thumbs.Delete(st.path)
		}
		log.Printf("[DEBUG] thumbnail of version %d is %s", versionID, st.status)
		ev := modelibr.ThumbnailEvent{ModelVersionID: versionID, Status: st.status, ErrorMessage: st.errMsg, Timestamp: time.Now().UTC()}
		if st.path != "" {
			ev.ThumbnailURL = "/" + st.path
		}
		s.hub.Broadcast(ev)
	}
}

// thumbCache keeps rendered thumbnail images by path.
type thumbCache struct {
	cache *lcw.LruCache[[]byte]
}

func newThumbCache(maxKeys int) (*thumbCache, error) {
	o := lcw.NewOpts[[]byte]()
	c, err := lcw.NewLruCache(o.MaxKeys(maxKeys))
	if err != nil {
		return nil, fmt.Errorf("failed to make thumbnail cache: %w", err)
	}
	return &thumbCache{cache: c}, nil
}

// Get returns the image at path, rendering it for versionID on a miss.
func (t *thumbCache) Get(path string, versionID int) ([]byte, error) {
	img, err := t.cache.Get(path, func() ([]byte, error) { return renderThumbnail(versionID) })
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", path, err)
	}
	return img, nil
}

// Delete drops a cached image.
func (t *thumbCache) Delete(path string) {
	t.cache.Delete(path)
}

// Close releases the cache.
func (t *thumbCache) Close() {
	_ = t.cache.Close()
}

// renderThumbnail draws a small square whose colour is derived from the version id,
// so different versions have different images.
func renderThumbnail(versionID int) ([]byte, error) {
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := color.RGBA{R: uint8(versionID * 37 % 256), G: uint8(versionID * 91 % 256), B: uint8(versionID * 53 % 256), A: 255} //nolint:gosec // modulo 256
	for y := range size {
		for x := range size {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
