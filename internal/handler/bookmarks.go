package handler

import (
	"net/http"
	"time"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/validation"
)

type bookmarkResponse struct {
	Book      bookResponse `json:"book"`
	CreatedAt time.Time    `json:"createdAt"`
}

type bookmarkRequest struct {
	BookID string `json:"bookId"`
}

func (h *Handler) listBookmarks(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Bookmarks.List(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now()
	out := make([]bookmarkResponse, len(list))
	for i := range list {
		out[i] = bookmarkResponse{
			Book:      bookJSON(&list[i].Book, now),
			CreatedAt: list[i].CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addBookmark(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bookmarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	errs := validation.Errors{}
	errs.Check(req.BookID != "", "bookId", "is required")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Bookmarks.Add(r.Context(), p.UserID, req.BookID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeBookmark(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Bookmarks.Remove(r.Context(), p.UserID, r.PathValue("bookId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
