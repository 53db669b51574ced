// Package api exposes the sharing protocol over HTTP: share, schema, and
// table listings as JSON, table metadata and queries as NDJSON action
// streams.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lakeshare/internal/domain"
	"lakeshare/internal/middleware"
	"lakeshare/internal/sharing"
)

// Handler serves the sharing protocol endpoints.
type Handler struct {
	svc    *sharing.Service
	logger *slog.Logger
}

// NewHandler builds the handler around the sharing service.
func NewHandler(svc *sharing.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With("component", "api")}
}

// log returns the handler logger scoped to the request, carrying the
// request ID so recipients can quote it when reporting failures.
func (h *Handler) log(r *http.Request) *slog.Logger {
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}

// Routes mounts every protocol endpoint on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/shares", h.listShares)
	r.Get("/shares/{share}", h.getShare)
	r.Get("/shares/{share}/schemas", h.listSchemas)
	r.Get("/shares/{share}/all-tables", h.listShareTables)
	r.Get("/shares/{share}/schemas/{schema}/tables", h.listSchemaTables)
	r.Get("/shares/{share}/schemas/{schema}/tables/{table}/version", h.tableVersion)
	r.Get("/shares/{share}/schemas/{schema}/tables/{table}/metadata", h.tableMetadata)
	r.Post("/shares/{share}/schemas/{schema}/tables/{table}/query", h.queryTable)
}

// recipientOf extracts the authenticated recipient. The auth middleware
// always sets one; a missing recipient means the route was mounted wrong.
func recipientOf(r *http.Request) (domain.RecipientID, error) {
	recipient, ok := middleware.RecipientFromContext(r.Context())
	if !ok {
		return domain.RecipientID{}, domain.ErrUnauthenticated("no authenticated recipient")
	}
	return recipient, nil
}

// parsePageRequest reads maxResults and pageToken query parameters.
func parsePageRequest(r *http.Request) (domain.PageRequest, error) {
	page := domain.PageRequest{PageToken: r.URL.Query().Get("pageToken")}
	if raw := r.URL.Query().Get("maxResults"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > domain.MaxMaxResults {
			return domain.PageRequest{}, domain.ErrValidation("maxResults must be an integer between 0 and %d", domain.MaxMaxResults)
		}
		page.MaxResults = n
	}
	return page, nil
}

// checkCapabilities parses the delta-sharing-capabilities header. This
// server emits parquet-format responses only; a client that explicitly
// excludes parquet from responseformat cannot be served.
func checkCapabilities(r *http.Request) error {
	header := r.Header.Get("delta-sharing-capabilities")
	if header == "" {
		return nil
	}
	for _, capability := range strings.Split(header, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(capability), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "responseformat") {
			continue
		}
		for _, format := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(format), "parquet") {
				return nil
			}
		}
		return domain.ErrValidation("responseformat %q is not supported, this server responds in parquet format", value)
	}
	return nil
}

func (h *Handler) listShares(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	res, err := h.svc.Catalog().ListShares(r.Context(), recipient, page)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[shareResponse]{
		Items:         mapItems(res.Items, toShareResponse),
		NextPageToken: res.NextPageToken,
	})
}

func (h *Handler) getShare(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	share, err := h.svc.Catalog().GetShare(r.Context(), recipient, chi.URLParam(r, "share"))
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, getShareResponse{Share: toShareResponse(share)})
}

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	res, err := h.svc.Catalog().ListSchemas(r.Context(), recipient, chi.URLParam(r, "share"), page)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[schemaResponse]{
		Items:         mapItems(res.Items, toSchemaResponse),
		NextPageToken: res.NextPageToken,
	})
}

func (h *Handler) listSchemaTables(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	res, err := h.svc.Catalog().ListSchemaTables(r.Context(), recipient,
		chi.URLParam(r, "share"), chi.URLParam(r, "schema"), page)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[tableResponse]{
		Items:         mapItems(res.Items, toTableResponse),
		NextPageToken: res.NextPageToken,
	})
}

func (h *Handler) listShareTables(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	page, err := parsePageRequest(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	res, err := h.svc.Catalog().ListShareTables(r.Context(), recipient, chi.URLParam(r, "share"), page)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[tableResponse]{
		Items:         mapItems(res.Items, toTableResponse),
		NextPageToken: res.NextPageToken,
	})
}

func (h *Handler) tableVersion(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	version, err := h.svc.TableVersion(r.Context(), recipient,
		chi.URLParam(r, "share"), chi.URLParam(r, "schema"), chi.URLParam(r, "table"),
		r.URL.Query().Get("startingTimestamp"))
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	w.Header().Set(tableVersionHeader, strconv.FormatInt(version, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) tableMetadata(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	if err := checkCapabilities(r); err != nil {
		writeError(w, h.log(r), err)
		return
	}

	res, err := h.svc.TableMetadata(r.Context(), recipient,
		chi.URLParam(r, "share"), chi.URLParam(r, "schema"), chi.URLParam(r, "table"),
		sharing.QueryRequest{})
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	writeNDJSON(w, res.Version, toProtocolLine(res.Protocol), toMetadataLine(res))
}

// queryRequestBody is the POST /query wire shape. Predicate hints are
// accepted and ignored; limitHint and the version selectors are honored.
type queryRequestBody struct {
	PredicateHints     []string        `json:"predicateHints"`
	JSONPredicateHints json.RawMessage `json:"jsonPredicateHints"`
	LimitHint          int             `json:"limitHint"`
	Version            *int64          `json:"version"`
	Timestamp          string          `json:"timestamp"`
}

func (h *Handler) queryTable(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientOf(r)
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}
	if err := checkCapabilities(r); err != nil {
		writeError(w, h.log(r), err)
		return
	}

	var body queryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.log(r), domain.ErrValidation("malformed query request body"))
		return
	}

	res, err := h.svc.QueryTable(r.Context(), recipient,
		chi.URLParam(r, "share"), chi.URLParam(r, "schema"), chi.URLParam(r, "table"),
		sharing.QueryRequest{
			PredicateHints:     body.PredicateHints,
			JSONPredicateHints: body.JSONPredicateHints,
			LimitHint:          body.LimitHint,
			Version:            body.Version,
			Timestamp:          body.Timestamp,
		})
	if err != nil {
		writeError(w, h.log(r), err)
		return
	}

	lines := make([]any, 0, len(res.Files)+2)
	lines = append(lines, toProtocolLine(res.Protocol), toMetadataLine(res.MetadataResult))
	for _, f := range res.Files {
		lines = append(lines, toFileLine(f))
	}
	writeNDJSON(w, res.Version, lines...)
}
