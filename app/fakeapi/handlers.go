package fakeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/modelibr/e2e/lib/modelibr"
)

// maxUploadMemory is how much of a multipart form is kept in memory before spilling to disk.
const maxUploadMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rest.RenderJSON(w, rest.JSON{"status": "Healthy"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.data.listModels(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.sendError(w, r, err, "failed to list models")
		return
	}
	rest.RenderJSON(w, models)
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		s.sendError(w, r, err, "invalid upload")
		return
	}
	res, err := s.data.createModel(r.Context(), up)
	if err != nil {
		s.sendError(w, r, err, "failed to create model")
		return
	}
	if !res.AlreadyExists {
		s.startPipeline(res.VersionID, up.FileName)
	}
	renderCreated(w, res)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := s.data.model(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err, "failed to get model")
		return
	}
	rest.RenderJSON(w, m)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.data.deleteModel(r.Context(), id); err != nil {
		s.sendError(w, r, err, "failed to delete model")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	versions, err := s.data.listVersions(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err, "failed to list versions")
		return
	}
	rest.RenderJSON(w, versions)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := s.pathID(w, r, "versionID")
	if !ok {
		return
	}
	v, err := s.data.version(r.Context(), id, versionID)
	if err != nil {
		s.sendError(w, r, err, "failed to get version")
		return
	}
	rest.RenderJSON(w, v)
}

// handleCreateVersion reads setAsActive from the query string only, form values are ignored.
func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	up, err := readUpload(r)
	if err != nil {
		s.sendError(w, r, err, "invalid upload")
		return
	}
	setActive, _ := strconv.ParseBool(r.URL.Query().Get("setAsActive"))
	res, err := s.data.createVersion(r.Context(), id, up, r.FormValue("description"), setActive)
	if err != nil {
		s.sendError(w, r, err, "failed to create version")
		return
	}
	s.startPipeline(res.ID, up.FileName)
	renderCreated(w, res)
}

func (s *Server) handleGetThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := s.data.model(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err, "failed to get model")
		return
	}
	th, err := s.data.thumbnail(r.Context(), m.ActiveVersionID)
	if err != nil {
		s.sendError(w, r, err, "failed to get thumbnail")
		return
	}
	res := modelibr.Thumbnail{Status: th.Status, ErrorMessage: th.ErrorMessage}
	if th.Status == modelibr.ThumbnailReady {
		res.FileURL = fmt.Sprintf("/models/%d/thumbnail/file", id)
		res.ProcessedAt = &th.UpdatedAt
	}
	rest.RenderJSON(w, res)
}

// handleThumbnailFile serves the rendered image of the active version's ready thumbnail.
func (s *Server) handleThumbnailFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := s.data.model(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err, "failed to get model")
		return
	}
	th, err := s.data.thumbnail(r.Context(), m.ActiveVersionID)
	if err != nil {
		s.sendError(w, r, err, "failed to get thumbnail")
		return
	}
	if th.Status != modelibr.ThumbnailReady {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, nil, "thumbnail is "+th.Status.String())
		return
	}
	img, err := s.thumbs.Get(th.Path, th.ModelVersionID)
	if err != nil {
		s.sendError(w, r, err, "failed to render thumbnail")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(img)
}

func (s *Server) handleSetDefaultTextureSet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		TextureSetID   *int `json:"textureSetId"`
		ModelVersionID int  `json:"modelVersionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return
	}
	if err := s.data.setDefaultTextureSet(r.Context(), id, req.ModelVersionID, req.TextureSetID); err != nil {
		s.sendError(w, r, err, "failed to set default texture set")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTextureSet(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		s.sendError(w, r, err, "invalid upload")
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = up.baseName()
	}
	textureType := modelibr.TextureType(r.FormValue("textureType"))
	if textureType == "" {
		textureType = modelibr.TextureAlbedo
	}
	res, err := s.data.createTextureSet(r.Context(), name, textureType, up)
	if err != nil {
		s.sendError(w, r, err, "failed to create texture set")
		return
	}
	renderCreated(w, res)
}

func (s *Server) handleGetTextureSet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	ts, err := s.data.textureSet(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err, "failed to get texture set")
		return
	}
	rest.RenderJSON(w, ts)
}

func (s *Server) handleDeleteTextureSet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.data.deleteTextureSet(r.Context(), id); err != nil {
		s.sendError(w, r, err, "failed to delete texture set")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := s.pathID(w, r, "versionID")
	if !ok {
		return
	}
	if err := s.data.associate(r.Context(), id, versionID); err != nil {
		s.sendError(w, r, err, "failed to link texture set")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisassociate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := s.pathID(w, r, "versionID")
	if !ok {
		return
	}
	if err := s.data.disassociate(r.Context(), id, versionID); err != nil {
		s.sendError(w, r, err, "failed to unlink texture set")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSound(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		s.sendError(w, r, err, "invalid upload")
		return
	}
	duration, err := strconv.ParseFloat(r.FormValue("duration"), 64)
	if err != nil || duration < 0 {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid duration")
		return
	}
	var categoryID int
	if v := r.FormValue("categoryId"); v != "" {
		if categoryID, err = strconv.Atoi(v); err != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid category id")
			return
		}
	}
	res, err := s.data.createSound(r.FormValue("name"), duration, categoryID, up)
	if err != nil {
		s.sendError(w, r, err, "failed to create sound")
		return
	}
	renderCreated(w, res)
}

func (s *Server) handleGetSound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	snd, err := s.data.sound(id)
	if err != nil {
		s.sendError(w, r, err, "failed to get sound")
		return
	}
	rest.RenderJSON(w, snd)
}

func (s *Server) handleDeleteSound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.data.deleteSound(id); err != nil {
		s.sendError(w, r, err, "failed to delete sound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type namedRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) decodeNamed(w http.ResponseWriter, r *http.Request) (namedRequest, bool) {
	var req namedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid request body")
		return req, false
	}
	if req.Name == "" {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, nil, "name is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeNamed(w, r)
	if !ok {
		return
	}
	c, err := s.data.createCategory(req.Name, req.Description, s.UniqueCategories)
	if err != nil {
		s.sendError(w, r, err, "failed to create sound category")
		return
	}
	renderCreated(w, c)
}

func (s *Server) handleListCategories(w http.ResponseWriter, _ *http.Request) {
	rest.RenderJSON(w, s.data.listCategories())
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.data.category(id)
	if err != nil {
		s.sendError(w, r, err, "failed to get sound category")
		return
	}
	rest.RenderJSON(w, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.data.deleteCategory(id); err != nil {
		s.sendError(w, r, err, "failed to delete sound category")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) collectionCreate(c *collections) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeNamed(w, r)
		if !ok {
			return
		}
		renderCreated(w, c.create(req.Name, req.Description))
	}
}

func (s *Server) collectionGet(c *collections) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		item, err := c.get(id)
		if err != nil {
			s.sendError(w, r, err, "failed to get collection")
			return
		}
		rest.RenderJSON(w, item)
	}
}

func (s *Server) collectionDelete(c *collections) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		if err := c.delete(id); err != nil {
			s.sendError(w, r, err, "failed to delete collection")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCreateSprite(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		s.sendError(w, r, err, "invalid upload")
		return
	}
	renderCreated(w, s.data.createSprite(r.FormValue("name"), up))
}

func (s *Server) handleGetSprite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	sp, err := s.data.sprite(id)
	if err != nil {
		s.sendError(w, r, err, "failed to get sprite")
		return
	}
	rest.RenderJSON(w, sp)
}

func (s *Server) handleDeleteSprite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.data.deleteSprite(id); err != nil {
		s.sendError(w, r, err, "failed to delete sprite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// renderCreated sends v as JSON with 201 status.
func renderCreated(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(v)
}

// pathID parses a numeric path value, answering 400 when it isn't one.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "invalid "+name)
		return 0, false
	}
	return id, true
}

// sendError maps data errors to HTTP statuses.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errConflict):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	rest.SendErrorJSON(w, r, log.Default(), status, err, msg)
}

// readUpload reads the "file" part of a multipart form. Empty files are rejected.
func readUpload(r *http.Request) (upload, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return upload{}, fmt.Errorf("parse form: %v: %w", err, errBadRequest)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return upload{}, fmt.Errorf("file part: %v: %w", err, errBadRequest)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fmt.Errorf("read file part: %w", err)
	}
	if len(data) == 0 {
		return upload{}, fmt.Errorf("file %s is empty: %w", hdr.Filename, errBadRequest)
	}
	return upload{FileName: filepath.Base(hdr.Filename), Data: data}, nil
}
