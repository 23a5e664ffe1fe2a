package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/validation"
)

const maxPageSize = 100

type bookResponse struct {
	ID              string     `json:"id"`
	ISBN            string     `json:"isbn,omitempty"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	Description     string     `json:"description,omitempty"`
	Genre           string     `json:"genre,omitempty"`
	CoverURL        string     `json:"coverUrl,omitempty"`
	Price           float64    `json:"price"`
	SalePrice       float64    `json:"salePrice"`
	Stock           int        `json:"stock"`
	OnSale          bool       `json:"onSale"`
	DiscountPercent *float64   `json:"discountPercent,omitempty"`
	DiscountStart   *time.Time `json:"discountStart,omitempty"`
	DiscountEnd     *time.Time `json:"discountEnd,omitempty"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func bookJSON(b *book.Book, now time.Time) bookResponse {
	resp := bookResponse{
		ID:            b.ID,
		ISBN:          b.ISBN,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Genre:         b.Genre,
		CoverURL:      b.CoverURL,
		Price:         b.Price.InexactFloat64(),
		SalePrice:     b.PriceAt(now).InexactFloat64(),
		Stock:         b.Stock,
		OnSale:        b.Sale.ActiveAt(now),
		DiscountStart: b.Sale.Start,
		DiscountEnd:   b.Sale.End,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if b.Sale.Percent.Valid {
		p := b.Sale.Percent.Decimal.InexactFloat64()
		resp.DiscountPercent = &p
	}
	return resp
}

// bookRequest is the editable part of a book. Version is required on update.
type bookRequest struct {
	ISBN            string              `json:"isbn"`
	Title           string              `json:"title"`
	Author          string              `json:"author"`
	Description     string              `json:"description"`
	Genre           string              `json:"genre"`
	CoverURL        string              `json:"coverUrl"`
	Price           decimal.Decimal     `json:"price"`
	Stock           int                 `json:"stock"`
	OnSale          bool                `json:"onSale"`
	DiscountPercent decimal.NullDecimal `json:"discountPercent"`
	DiscountStart   *time.Time          `json:"discountStart"`
	DiscountEnd     *time.Time          `json:"discountEnd"`
	Version         int                 `json:"version"`
}

func (req bookRequest) apply(b *book.Book) {
	b.ISBN = strings.TrimSpace(req.ISBN)
	b.Title = strings.TrimSpace(req.Title)
	b.Author = strings.TrimSpace(req.Author)
	b.Description = req.Description
	b.Genre = strings.TrimSpace(req.Genre)
	b.CoverURL = req.CoverURL
	b.Price = req.Price.Round(2)
	b.Stock = req.Stock
	b.Sale = book.Sale{
		OnSale:  req.OnSale,
		Percent: req.DiscountPercent,
		Start:   req.DiscountStart,
		End:     req.DiscountEnd,
	}
	b.Version = req.Version
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	errs := validation.Errors{}
	q := book.Query{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Genre:  r.URL.Query().Get("genre"),
		Author: r.URL.Query().Get("author"),
		OnSale: queryBool(r, errs, "onSale"),
		Limit:  queryInt(r, errs, "limit"),
		Offset: queryInt(r, errs, "offset"),
	}
	errs.Check(q.Limit <= maxPageSize, "limit", "must be at most 100")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = maxPageSize
	}

	books, err := h.Books.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now()
	out := make([]bookResponse, len(books))
	for i := range books {
		out[i] = bookJSON(&books[i], now)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.Books.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookJSON(b, time.Now()))
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, auth.CapCatalogManage); err != nil {
		writeError(w, r, err)
		return
	}
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	b := &book.Book{ID: uuid.NewString(), CreatedAt: now}
	req.apply(b)
	if err := b.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Books.Create(r.Context(), b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookJSON(b, now))
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, auth.CapCatalogManage); err != nil {
		writeError(w, r, err)
		return
	}
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b := &book.Book{ID: r.PathValue("id"), UpdatedAt: time.Now().UTC()}
	req.apply(b)
	errs := validation.Errors{}
	errs.Check(b.Version > 0, "version", "is required")
	if err := b.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Books.Update(r.Context(), b); err != nil {
		writeError(w, r, err)
		return
	}
	fresh, err := h.Books.GetByID(r.Context(), b.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookJSON(fresh, time.Now()))
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, auth.CapCatalogManage); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Books.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
