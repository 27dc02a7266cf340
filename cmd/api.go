package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/catalog"
	"github.com/mykull23/us-census-map-shanir/internal/demographics"
	"github.com/mykull23/us-census-map-shanir/internal/resilience"
	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
	"github.com/mykull23/us-census-map-shanir/internal/zipindex"
)

// apiServer carries the index, the fetch service and the variable catalog
// behind the HTTP handlers.
type apiServer struct {
	idx          *zipindex.Index
	svc          *demographics.Service
	cat          *catalog.Catalog
	defaultLimit int
}

// newRouter assembles the API routes with CORS, panic recovery and request
// logging.
func newRouter(s *apiServer, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/zips/{zip}", s.handleGetZip)
		r.Get("/search", s.handleSearch)
		r.Get("/radius", s.handleRadius)
		r.Get("/bbox", s.handleBbox)
		r.Get("/stats", s.handleStats)
		r.Post("/variables", s.handleVariables)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Error: msg})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleGetZip(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.idx.Get(chi.URLParam(r, "zip"))
	if !ok {
		writeError(w, http.StatusNotFound, "zip not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type recordsResponse struct {
	Count   int                 `json:"count"`
	Records []zipdata.ZipRecord `json:"records"`
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), s.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []zipdata.ZipRecord
	switch {
	case q.Get("city") != "":
		records = s.idx.ByCity(q.Get("city"), q.Get("state"), limit)
	case q.Get("county") != "":
		records = s.idx.ByCounty(q.Get("county"), limit)
	case q.Get("state") != "":
		records = s.idx.ByState(q.Get("state"), limit)
	default:
		writeError(w, http.StatusBadRequest, "one of state, city or county is required")
		return
	}

	writeJSON(w, http.StatusOK, recordsResponse{Count: len(records), Records: records})
}

func (s *apiServer) handleRadius(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := parseFloatParam(q.Get("lat"), "lat")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lng, err := parseFloatParam(q.Get("lng"), "lng")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	km, err := parseFloatParam(q.Get("km"), "km")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(q.Get("limit"), s.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches := s.idx.SearchRadius(lat, lng, km, limit)
	writeJSON(w, http.StatusOK, struct {
		Count   int              `json:"count"`
		Matches []zipindex.Match `json:"matches"`
	}{len(matches), matches})
}

func (s *apiServer) handleBbox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var bounds [4]float64
	for i, name := range []string{"min_lat", "min_lng", "max_lat", "max_lng"} {
		v, err := parseFloatParam(q.Get(name), name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		bounds[i] = v
	}
	limit, err := parseLimit(q.Get("limit"), s.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := s.idx.SearchBoundingBox(bounds[0], bounds[1], bounds[2], bounds[3], limit)
	writeJSON(w, http.StatusOK, recordsResponse{Count: len(records), Records: records})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.idx.Stats())
}

type variablesRequest struct {
	Zips      []string `json:"zips"`
	Variables []string `json:"variables"`
	Dataset   string   `json:"dataset,omitempty"`
	Year      int      `json:"year,omitempty"`
}

func (s *apiServer) handleVariables(w http.ResponseWriter, r *http.Request) {
	var req variablesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	vars, err := s.cat.Expand(req.Variables)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.svc.FetchVariables(r.Context(), req.Zips, vars, demographics.FetchOptions{
		Dataset: req.Dataset,
		Year:    req.Year,
	})
	if err != nil {
		if resilience.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	cache, err := s.svc.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Cache   demographics.CacheStats `json:"cache"`
		Service demographics.Stats      `json:"service"`
	}{cache, s.svc.Stats()})
}

func (s *apiServer) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ClearCache(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, resilience.NewValidationError("invalid limit %q", raw)
	}
	if n == 0 {
		return def, nil
	}
	return n, nil
}

func parseFloatParam(raw, name string) (float64, error) {
	if raw == "" {
		return 0, resilience.NewValidationError("missing %s parameter", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, resilience.NewValidationError("invalid %s parameter %q", name, raw)
	}
	return v, nil
}
