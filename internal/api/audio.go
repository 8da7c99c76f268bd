package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/ingest"
)

// multipartMemory is how much of a form ParseMultipartForm keeps in memory
// before spilling file parts to temp files.
const multipartMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, q database.Querier) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rec, err := s.coord.Ingest(r.Context(), q, up)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":           "File uploaded successfully",
		"file_id":           rec.ID,
		"original_filename": rec.OriginalFilename,
		"file_size":         rec.SizeBytes,
	})
}

// readUpload buffers the "audio" form file. A nil upload with a nil error
// means the field was missing and is left for the coordinator to reject.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*ingest.Upload, error) {
	// headroom for the multipart envelope around the file
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, apperr.Validation.Wrap(apperr.ErrFileTooLarge)
		case errors.Is(err, http.ErrNotMultipart):
			return nil, nil
		default:
			return nil, apperr.Validation.Wrap(apperr.ErrMalformedRequest)
		}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) {
		// a part sent with filename="" is parsed as a plain value
		if _, ok := r.MultipartForm.Value["audio"]; ok {
			return &ingest.Upload{}, nil
		}
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Validation.Wrap(apperr.ErrMalformedRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, apperr.Validation.Wrap(apperr.ErrMalformedRequest)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, apperr.Validation.Wrap(apperr.ErrFileTooLarge)
	}
	return &ingest.Upload{
		Data:     data,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
	}, nil
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, q database.Querier) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rec, obj, err := s.coord.Open(r.Context(), q, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer obj.Close()
	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalFilename}))
	http.ServeContent(w, r, rec.OriginalFilename, rec.UploadedAt, obj)
}

func (s *Server) handleAudioMetadata(w http.ResponseWriter, r *http.Request, q database.Querier) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rec, err := s.coord.Lookup(r.Context(), q, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
