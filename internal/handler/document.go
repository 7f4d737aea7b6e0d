package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"camo/internal/config"
	"camo/internal/document"
	"camo/internal/domain"
	"camo/internal/domain/repositories"
	"camo/internal/httputil"
)

// DocumentHandler exposes every registered document type over HTTP
type DocumentHandler struct {
	registry *document.Registry
	logger   *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(registry *document.Registry, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes mounts the document API on mux
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /api/types", h.ListTypes)
	mux.HandleFunc("GET /api/{resource}", h.ListDocuments)
	mux.HandleFunc("GET /api/{resource}/count", h.CountDocuments) // Must come before {id} route
	mux.HandleFunc("GET /api/{resource}/{id}", h.GetDocument)
	mux.HandleFunc("POST /api/{resource}", h.CreateDocument)
	mux.HandleFunc("PATCH /api/{resource}/{id}", h.UpdateDocument)
	mux.HandleFunc("DELETE /api/{resource}/{id}", h.DeleteDocument)
}

// HealthCheck reports the server is up
// GET /health
func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type typeInfo struct {
	Name       string         `json:"name"`
	Resource   string         `json:"resource,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Class      string         `json:"class"`
	Embedded   bool           `json:"embedded"`
	Schema     map[string]any `json:"schema"`
}

// ListTypes describes every registered type
// GET /api/types
func (h *DocumentHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.Types()
	out := make([]typeInfo, 0, len(types))
	for _, t := range types {
		info := typeInfo{
			Name:     t.Name(),
			Class:    t.DocumentClass(),
			Embedded: t.IsEmbedded(),
			Schema:   t.Describe(),
		}
		if !t.IsEmbedded() {
			info.Resource = t.ResourceName()
			info.Collection = t.CollectionName()
		}
		out = append(out, info)
	}
	httputil.RespondJSON(w, http.StatusOK, out)
}

// ListDocuments returns the documents matching the q filter
// GET /api/{resource}?q=&populate=&sort=&limit=&skip=
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveType(w, r)
	if !ok {
		return
	}

	query, err := parseFilter(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	docs, err := t.Find(r.Context(), query, opts...)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, document.ConvertToJSON(docs))
}

// CountDocuments counts the documents matching the q filter
// GET /api/{resource}/count?q=
func (h *DocumentHandler) CountDocuments(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveType(w, r)
	if !ok {
		return
	}

	query, err := parseFilter(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	n, err := t.Count(r.Context(), query)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// GetDocument retrieves a document by ID
// GET /api/{resource}/{id}?populate=
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveType(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	doc, err := t.FindByID(r.Context(), id, document.WithPopulate(parsePopulate(r)))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if doc == nil {
		handleError(w, h.logger, notFound(t, r))
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc.Summary())
}

// CreateDocument creates and saves a new document
// POST /api/{resource}
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveType(w, r)
	if !ok {
		return
	}

	var params map[string]any
	if err := httputil.ParseJSON(w, r, &params); err != nil {
		handleError(w, h.logger, invalidBody(err))
		return
	}

	doc, err := t.Create(r.Context(), params)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.logger.Debug("document created",
		"type", t.Name(),
		"id", doc.ID(),
		"user_id", domain.UserID(r.Context()),
	)
	httputil.RespondJSON(w, http.StatusCreated, doc.Summary())
}

// UpdateDocument applies a partial update
// PATCH /api/{resource}/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveType(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var values map[string]any
	if err := httputil.ParseJSON(w, r, &values); err != nil {
		handleError(w, h.logger, invalidBody(err))
		return
	}
	delete(values, repositories.IDField)
	delete(values, "id")

	doc, err := t.FindByIDAndUpdate(r.Context(), id, values, document.WithPopulate(parsePopulate(r)))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if doc == nil {
		handleError(w, h.logger, notFound(t, r))
		return
	}
	httputil.RespondJSON(w, http.StatusOK, doc.Summary())
}

// DeleteDocument deletes a document, running its delete hooks
// DELETE /api/{resource}/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveType(w, r)
	if !ok {
		return
	}
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	doc, err := t.FindByID(r.Context(), id, document.WithoutPopulate())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if doc == nil {
		handleError(w, h.logger, notFound(t, r))
		return
	}

	if _, err := doc.Delete(r.Context()); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) resolveType(w http.ResponseWriter, r *http.Request) (*document.Type, bool) {
	resource := r.PathValue("resource")
	t, ok := h.registry.ByResource(resource)
	if !ok {
		httputil.RespondError(w, http.StatusNotFound, fmt.Sprintf("unknown resource %q", resource))
		return nil, false
	}
	return t, true
}

func (h *DocumentHandler) parseID(w http.ResponseWriter, r *http.Request) (any, bool) {
	id, err := h.registry.ParseID(r.PathValue("id"))
	if err != nil {
		httputil.RespondError(w, http.StatusNotFound, fmt.Sprintf("no document with id %q", r.PathValue("id")))
		return nil, false
	}
	return id, true
}

func notFound(t *document.Type, r *http.Request) error {
	return &domain.NotFoundError{Message: fmt.Sprintf("%s %s not found", t.Name(), r.PathValue("id"))}
}

func invalidBody(err error) error {
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
}

// parseFilter decodes the q parameter as a JSON filter
func parseFilter(r *http.Request) (repositories.Query, error) {
	raw := r.URL.Query().Get("q")
	if raw == "" {
		return repositories.Query{}, nil
	}
	if len(raw) > config.MaxFilterLength {
		return nil, fmt.Errorf("filter exceeds %d bytes: %w", config.MaxFilterLength, domain.ErrInvalidArgument)
	}

	var query repositories.Query
	if err := json.Unmarshal([]byte(raw), &query); err != nil {
		return nil, fmt.Errorf("q must be a JSON object: %w", domain.ErrInvalidArgument)
	}
	if query == nil {
		query = repositories.Query{}
	}
	return query, nil
}

// parsePopulate reads populate=true|false|field,field; absent means every reference
func parsePopulate(r *http.Request) document.PopulateSpec {
	raw := strings.TrimSpace(r.URL.Query().Get("populate"))
	switch strings.ToLower(raw) {
	case "", "true", "1", "all":
		return document.PopulateAll
	case "false", "0", "none":
		return document.PopulateNone
	}

	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return document.PopulateFields(fields...)
}

func listOptions(r *http.Request) ([]document.FindOption, error) {
	opts := []document.FindOption{document.WithPopulate(parsePopulate(r))}

	for _, s := range strings.Split(r.URL.Query().Get("sort"), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if field, desc := strings.CutPrefix(s, "-"); desc {
			opts = append(opts, document.WithSort(field, -1))
		} else {
			opts = append(opts, document.WithSort(strings.TrimPrefix(s, "+"), 1))
		}
	}

	limit, err := httputil.QueryInt(r, "limit", config.DefaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidArgument)
	}
	if limit == 0 || limit > config.MaxPageSize {
		limit = config.MaxPageSize
	}
	skip, err := httputil.QueryInt(r, "skip", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidArgument)
	}

	return append(opts, document.WithLimit(limit), document.WithSkip(skip)), nil
}
