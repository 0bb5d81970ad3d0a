package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/logging"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

func fsPath(r *http.Request) string {
	return "/" + r.PathValue("path")
}

// queryOptions turns the query string into a loosely typed option map.
// The token parameter belongs to auth.
func queryOptions(r *http.Request) map[string]any {
	out := make(map[string]any)
	for k, v := range r.URL.Query() {
		if k == "token" || len(v) == 0 {
			continue
		}
		out[k] = v[len(v)-1]
	}
	return out
}

// ─── List ───────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	opts, err := fileops.DecodeListOptions(queryOptions(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	res, err := s.fs.List(r.Context(), req, fsPath(r), opts)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStream writes one JSON entry per line while the listing is read.
// A failure after the first line is reported as a final error line.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	opts, err := fileops.DecodeListOptions(queryOptions(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	st, err := s.fs.ListStream(r.Context(), req, fsPath(r), opts)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	defer st.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	n := 0
	for st.Next() {
		if err := enc.Encode(st.Value()); err != nil {
			logging.Warn("stream write failed", zap.String("path", r.URL.Path), zap.Error(err))
			return
		}
		n++
		if flusher != nil && n%100 == 0 {
			flusher.Flush()
		}
	}
	if err := st.Err(); err != nil {
		fe := fserr.As(err)
		enc.Encode(errorBody(fe.HTTPStatus(), fe.Code, fe.Error()))
	}
}

// ─── Retrieve ───────────────────────────────────────────────────────────────

// handleRetrieve returns the JSON envelope by default. With format=raw the
// canonical content is the response body and a Range header maps onto
// start_offset and max_bytes.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	opts, err := fileops.DecodeRetrieveOptions(queryOptions(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	var ranged bool
	if opts.Format == fileops.FormatRaw && opts.StartOffset == nil && opts.MaxBytes == nil {
		opts.StartOffset, opts.MaxBytes, ranged = parseRangeHeader(r.Header.Get("Range"))
	}

	res, err := s.fs.Retrieve(r.Context(), req, fsPath(r), opts)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if opts.Format != fileops.FormatRaw {
		writeJSON(w, http.StatusOK, res)
		return
	}

	body, _ := res.Content.(string)
	meta := res.Metadata
	ct := meta.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Last-Modified", meta.ModifiedTime.UTC().Format(http.TimeFormat))
	if meta.ETag != "" {
		w.Header().Set("ETag", `"`+meta.ETag+`"`)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))

	if !ranged {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
		return
	}
	start := *opts.StartOffset
	if len(body) == 0 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", meta.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+int64(len(body))-1, meta.Size))
	w.WriteHeader(http.StatusPartialContent)
	io.WriteString(w, body)
}

// parseRangeHeader reads a single "bytes=start-[end]" range. Suffix and
// multi-part ranges are ignored.
func parseRangeHeader(rangeHeader string) (start, maxBytes *int64, ok bool) {
	matches := rangeRegex.FindStringSubmatch(strings.TrimSpace(rangeHeader))
	if matches == nil {
		return nil, nil, false
	}
	from, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return nil, nil, false
	}
	if matches[2] == "" {
		return &from, nil, true
	}
	to, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil || to < from {
		return nil, nil, false
	}
	n := to - from + 1
	return &from, &n, true
}

// ─── Store ──────────────────────────────────────────────────────────────────

// handleStore writes the request body. JSON bodies are decoded; any other
// content type is stored as text.
func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	opts, err := fileops.DecodeStoreOptions(queryOptions(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendStatus(w, http.StatusRequestEntityTooLarge, fserr.RequestInvalidFormat,
				fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.sendStatus(w, http.StatusBadRequest, fserr.RequestInvalidFormat, "read body: "+err.Error())
		return
	}

	var value any = string(data)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &value); err != nil {
			s.sendStatus(w, http.StatusBadRequest, fserr.RequestInvalidFormat, "invalid JSON body: "+err.Error())
			return
		}
	}

	res, err := s.fs.Store(r.Context(), req, fsPath(r), value, opts)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ─── Delete / Stat / Size / MDTM ────────────────────────────────────────────

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	res, err := s.fs.Delete(r.Context(), req, fsPath(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	res, err := s.fs.Stat(r.Context(), req, fsPath(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	res, err := s.fs.Size(r.Context(), req, fsPath(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleModifyTime(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	res, err := s.fs.ModifyTime(r.Context(), req, fsPath(r))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
