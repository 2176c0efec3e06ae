package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/analytics"
	"github.com/sanspareilsmyn/sqlitelens/internal/resultset"
	"github.com/sanspareilsmyn/sqlitelens/internal/session"
	"github.com/sanspareilsmyn/sqlitelens/internal/source"
	"github.com/sanspareilsmyn/sqlitelens/internal/sqlitedb"
)

const (
	defaultPageSize = 100
	uploadFormField = "file"
	filenameHeader  = "X-Filename"
	defaultFilename = "upload.sqlite"
)

// APIError is the body of every failed request.
type APIError struct {
	Message string `json:"message"`
}

type APIResponse struct {
	Error *APIError `json:"error,omitempty"`
}

// TableInfo describes one table of the current database.
type TableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// RowsResponse is one page of a table.
type RowsResponse struct {
	Table   string            `json:"table"`
	Columns []string          `json:"columns"`
	Links   map[string]string `json:"links,omitempty"` // column -> table its values are ids of
	Rows    []resultset.Item  `json:"rows"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// StatsResponse carries the analytics of the current database.
type StatsResponse struct {
	File        string           `json:"file"`
	LoadID      string           `json:"loadId"`
	Fingerprint string           `json:"fingerprint"`
	Table       string           `json:"table"`
	Cached      bool             `json:"cached"`
	Elapsed     string           `json:"elapsed"`
	Analytics   analytics.Result `json:"analytics"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug("Request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, APIResponse{Error: &APIError{Message: err.Error()}})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadDatabase accepts a multipart form with a "file" field or a raw
// body named by the "name" query parameter or the X-Filename header. The
// database is loaded first and only kept in the file store once it opened.
func (s *Server) uploadDatabase(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}

	name, data, err := readUpload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := s.opts.Loader.Load(r.Context(), session.LoadRequest{
		Name:   name,
		Origin: session.OriginUpload,
		Data:   data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.opts.Files != nil {
		if _, err := s.opts.Files.Put(r.Context(), name, bytes.NewReader(data)); err != nil {
			s.logger.Warn("Loaded upload could not be cached", zap.String("name", name), zap.Error(err))
		}
	}
	s.writeJSON(w, http.StatusCreated, info)
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, header, err := r.FormFile(uploadFormField)
		if err != nil {
			if tooLarge(err) {
				return "", nil, ErrUploadTooLarge
			}
			return "", nil, fmt.Errorf("%w: %w", ErrMissingUpload, err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrMissingUpload, err)
		}
		return header.Filename, data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		if tooLarge(err) {
			return "", nil, ErrUploadTooLarge
		}
		return "", nil, fmt.Errorf("%w: %w", ErrMissingUpload, err)
	}
	if len(data) == 0 {
		return "", nil, ErrMissingUpload
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = r.Header.Get(filenameHeader)
	}
	if name == "" {
		name = defaultFilename
	}
	return name, data, nil
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (s *Server) currentDatabase(w http.ResponseWriter, r *http.Request) {
	cur, err := s.opts.Session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cur.Info)
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	cur, err := s.opts.Session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tables := make([]TableInfo, 0, len(cur.Info.Tables))
	for _, name := range cur.Info.Tables {
		n, err := cur.DB.Count(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tables = append(tables, TableInfo{Name: name, Rows: n})
	}
	s.writeJSON(w, http.StatusOK, tables)
}

func (s *Server) tableRows(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cur, err := s.opts.Session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rs, err := cur.DB.Rows(r.Context(), table, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := cur.DB.Count(r.Context(), table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, RowsResponse{
		Table:   table,
		Columns: rs.Columns,
		Links:   sqlitedb.Links(rs.Columns, cur.Info.Tables),
		Rows:    rs.Items(),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, key, raw)
	}
	return v, nil
}

func (s *Server) lookupRow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cur, err := s.opts.Session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := cur.DB.Lookup(r.Context(), vars["table"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	cur, err := s.opts.Session.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !cur.Info.HasTable(s.opts.Table) {
		s.writeError(w, r, fmt.Errorf("%w: no %s table in %s", ErrStatsUnavailable, s.opts.Table, cur.Info.Name))
		return
	}

	_, cached := s.opts.Cache.Peek(cur.Info.Fingerprint)
	start := time.Now()
	result, err := s.opts.Cache.Get(r.Context(), cur.DB)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{
		File:        cur.Info.Name,
		LoadID:      cur.Info.LoadID.String(),
		Fingerprint: cur.Info.Fingerprint,
		Table:       s.opts.Table,
		Cached:      cached,
		Elapsed:     time.Since(start).String(),
		Analytics:   result,
	})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, s.opts.Files)
}

func (s *Server) loadFile(w http.ResponseWriter, r *http.Request) {
	s.load(w, r, s.opts.Files, mux.Vars(r)["name"], session.OriginLocal)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	s.delete(w, r, s.opts.Files, mux.Vars(r)["name"])
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	if s.opts.S3 == nil {
		s.writeError(w, r, ErrS3Disabled)
		return
	}
	s.list(w, r, s.opts.S3)
}

func (s *Server) loadObject(w http.ResponseWriter, r *http.Request) {
	if s.opts.S3 == nil {
		s.writeError(w, r, ErrS3Disabled)
		return
	}
	s.load(w, r, s.opts.S3, mux.Vars(r)["key"], session.OriginS3)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	if s.opts.S3 == nil {
		s.writeError(w, r, ErrS3Disabled)
		return
	}
	s.delete(w, r, s.opts.S3, mux.Vars(r)["key"])
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, store source.Store) {
	files, err := store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request, store source.Store, name string, origin session.Origin) {
	f, err := store.Fetch(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loadName := f.Name
	if origin == session.OriginS3 {
		loadName = source.BaseName(f.Name)
	}
	info, err := s.opts.Loader.Load(r.Context(), session.LoadRequest{Name: loadName, Origin: origin, Data: f.Data})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, store source.Store, name string) {
	if err := store.Delete(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
