package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/validation"
)

// multipartOverhead covers boundaries, part headers and the bookId field.
const multipartOverhead = 64 << 10

type uploadResponse struct {
	URL    string `json:"url"`
	BookID string `json:"bookId,omitempty"`
}

// uploadCover streams the "file" part to the cover store. When a "bookId"
// part is present the book's cover is pointed at the new file.
func (h *Handler) uploadCover(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, auth.CapUploadsWrite); err != nil {
		writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.Covers.MaxBytes()+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, badRequest("expected multipart/form-data"))
		return
	}

	var (
		resp uploadResponse
		kept bool
	)
	defer func() {
		if resp.URL == "" || kept {
			return
		}
		if err := h.Covers.Remove(resp.URL); err != nil {
			zctx.From(r.Context()).Warn("Remove unused cover", zap.String("url", resp.URL), zap.Error(err))
		}
	}()
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, r, multipartError(err))
			return
		}
		switch part.FormName() {
		case "file":
			if resp.URL != "" {
				writeError(w, r, badRequest("only one file may be uploaded"))
				return
			}
			url, err := h.Covers.Save(part)
			if err != nil {
				writeError(w, r, err)
				return
			}
			resp.URL = url
		case "bookId":
			raw, err := io.ReadAll(io.LimitReader(part, 256))
			if err != nil {
				writeError(w, r, multipartError(err))
				return
			}
			resp.BookID = strings.TrimSpace(string(raw))
		}
		_ = part.Close()
	}

	errs := validation.Errors{}
	errs.Check(resp.URL != "", "file", "is required")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.BookID != "" {
		if _, err := principal(r, auth.CapCatalogManage); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.Books.SetCover(r.Context(), resp.BookID, resp.URL); err != nil {
			writeError(w, r, err)
			return
		}
	}
	kept = true
	writeJSON(w, http.StatusCreated, resp)
}

func multipartError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return badRequest("malformed multipart body")
}
