package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"wptspec/internal/labels"
	"wptspec/internal/logging"
	"wptspec/internal/productspec"
	"wptspec/internal/runs"
)

const maxBodyBytes = 1 << 20

// SpecResponse describes one parsed product spec.
type SpecResponse struct {
	Spec        string            `json:"spec"`
	BrowserName string            `json:"browser_name"`
	Version     string            `json:"browser_version,omitempty"`
	Labels      []string          `json:"labels"`
	Revision    string            `json:"revision"`
	DisplayName string            `json:"display_name"`
	Fields      map[string]string `json:"fields"`
}

// FieldRequest asks for one semantic field to be applied to labels.
type FieldRequest struct {
	Labels   []string `json:"labels"`
	Field    string   `json:"field"`
	Value    string   `json:"value"`
	Previous string   `json:"previous"`
}

// FieldResponse carries the reconciled labels.
type FieldResponse struct {
	Labels  []string `json:"labels"`
	Changed bool     `json:"changed"`
}

// FieldsRequest asks for the semantic fields implied by labels.
type FieldsRequest struct {
	Labels []string `json:"labels"`
}

// FieldsResponse maps each semantic field to its value.
type FieldsResponse struct {
	Fields map[string]string `json:"fields"`
}

// VersionsResponse lists known versions of a product, highest first.
type VersionsResponse struct {
	Product  string   `json:"product"`
	Versions []string `json:"versions"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

type ctxKey int

const requestIDKey ctxKey = 0

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route registers h under pattern, counting responses by status and tagging
// each request with an ID.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := logging.StartTimer(logging.CategoryServer, pattern)
		h(rec, r.WithContext(withRequestID(r.Context(), id)))
		elapsed := timer.Stop()

		s.requests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		logging.WithRequestID(logging.CategoryServer, id).Debug("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("product")
	if raw == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("missing product parameter"))
		return
	}
	spec, err := s.parseSpec(raw)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	catalog := s.Catalog()
	labelsOut := spec.Labels
	if labelsOut == nil {
		labelsOut = []string{}
	}
	writeJSON(w, http.StatusOK, SpecResponse{
		Spec:        spec.String(),
		BrowserName: spec.BrowserName,
		Version:     spec.BrowserVersion,
		Labels:      labelsOut,
		Revision:    spec.Revision,
		DisplayName: catalog.DisplayName(spec.BrowserName),
		Fields:      labels.FieldsFromLabels(spec.Labels, catalog.Groups()),
	})
}

func (s *Server) handleLabelsField(w http.ResponseWriter, r *http.Request) {
	var req FieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	group, ok := s.Catalog().Group(req.Field)
	if !ok {
		s.writeError(w, r, http.StatusBadRequest, errors.New("unknown field "+strconv.Quote(req.Field)))
		return
	}
	previous := req.Previous
	if previous == labels.Any {
		previous = ""
	}
	out, changed := labels.LabelsFromField(req.Labels, group, req.Value, previous)
	if out == nil {
		out = []string{}
	}
	writeJSON(w, http.StatusOK, FieldResponse{Labels: out, Changed: changed})
}

func (s *Server) handleLabelsFields(w http.ResponseWriter, r *http.Request) {
	var req FieldsRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, FieldsResponse{
		Fields: labels.FieldsFromLabels(req.Labels, s.Catalog().Groups()),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("no run store configured"))
		return
	}
	q := r.URL.Query()

	maxCount := s.opts.DefaultMaxCount
	if v := q.Get("max-count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, http.StatusBadRequest, errors.New("max-count must be a positive integer"))
			return
		}
		maxCount = n
	}

	specs := s.Catalog().DefaultProducts()
	if raws := q["product"]; len(raws) > 0 {
		specs = make(productspec.ProductSpecs, 0, len(raws))
		for _, raw := range raws {
			spec, err := s.parseSpec(raw)
			if err != nil {
				s.writeError(w, r, statusFor(err), err)
				return
			}
			specs = append(specs, spec)
		}
	}

	found, err := s.store.List(r.Context(), runs.Query{Products: specs, MaxCount: maxCount})
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if found == nil {
		found = []runs.TestRun{}
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("no run store configured"))
		return
	}
	raw := r.URL.Query().Get("product")
	if raw == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("missing product parameter"))
		return
	}
	spec, err := s.parseSpec(raw)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	versions, err := s.store.Versions(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	writeJSON(w, http.StatusOK, VersionsResponse{Product: spec.WithoutVersion().String(), Versions: versions})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := requestID(r)
	log := logging.WithRequestID(logging.CategoryServer, id)
	if status >= http.StatusInternalServerError {
		log.Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		log.Debug("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: id})
}

func statusFor(err error) int {
	if errors.Is(err, productspec.ErrMalformedSpec) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerError("failed to encode response: %v", err)
	}
}
