package handler

import (
	"net/http"
	"time"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/review"
	"github.com/xenking/bookshop/internal/validation"
)

type reviewResponse struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func reviewJSON(r *review.Review) reviewResponse {
	return reviewResponse{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		UserName:  r.UserName,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type reviewListResponse struct {
	Reviews       []reviewResponse `json:"reviews"`
	Count         int              `json:"count"`
	AverageRating float64          `json:"averageRating"`
}

type reviewRequest struct {
	BookID  string `json:"bookId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func reviewActor(p *auth.Principal) review.Actor {
	return review.Actor{UserID: p.UserID, Moderator: p.Can(auth.CapReviewsModerate)}
}

func (h *Handler) listReviews(w http.ResponseWriter, r *http.Request) {
	bookID := r.URL.Query().Get("bookId")
	errs := validation.Errors{}
	errs.Check(bookID != "", "bookId", "is required")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	list, sum, err := h.Reviews.ListByBook(r.Context(), bookID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := reviewListResponse{
		Reviews:       make([]reviewResponse, len(list)),
		Count:         sum.Count,
		AverageRating: sum.Average.InexactFloat64(),
	}
	for i := range list {
		resp.Reviews[i] = reviewJSON(&list[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getReview(w http.ResponseWriter, r *http.Request) {
	rv, err := h.Reviews.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewJSON(rv))
}

func (h *Handler) createReview(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reviewRequest
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
	rv, err := h.Reviews.Create(r.Context(), p.UserID, req.BookID, req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rv.UserName = p.Name
	writeJSON(w, http.StatusCreated, reviewJSON(rv))
}

func (h *Handler) updateReview(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rv, err := h.Reviews.Update(r.Context(), r.PathValue("id"), reviewActor(p), req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewJSON(rv))
}

func (h *Handler) deleteReview(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Reviews.Delete(r.Context(), r.PathValue("id"), reviewActor(p)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
