package handler

import (
	"net/http"
	"time"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/cart"
	"github.com/xenking/bookshop/internal/validation"
)

type cartLineResponse struct {
	BookID    string    `json:"bookId"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Quantity  int       `json:"quantity"`
	Stock     int       `json:"stock"`
	ListPrice float64   `json:"listPrice"`
	UnitPrice float64   `json:"unitPrice"`
	LineTotal float64   `json:"lineTotal"`
	AddedAt   time.Time `json:"addedAt"`
}

type cartResponse struct {
	Items           []cartLineResponse `json:"items"`
	Quantity        int                `json:"quantity"`
	Subtotal        float64            `json:"subtotal"`
	DiscountRate    float64            `json:"discountRate"`
	DiscountAmount  float64            `json:"discountAmount"`
	FinalAmount     float64            `json:"finalAmount"`
	BulkDiscount    bool               `json:"bulkDiscount"`
	LoyaltyDiscount bool               `json:"loyaltyDiscount"`
}

func cartJSON(v *cart.View) cartResponse {
	q := v.Quote
	resp := cartResponse{
		Items:           make([]cartLineResponse, len(v.Lines)),
		Quantity:        q.Quantity,
		Subtotal:        q.Subtotal.InexactFloat64(),
		DiscountRate:    q.Rate.InexactFloat64(),
		DiscountAmount:  q.DiscountAmount.InexactFloat64(),
		FinalAmount:     q.FinalAmount.InexactFloat64(),
		BulkDiscount:    q.BulkApplied,
		LoyaltyDiscount: q.LoyaltyApplied,
	}
	// Quote lines follow the order of the cart lines they were priced from.
	for i, l := range v.Lines {
		item := cartLineResponse{
			BookID:   l.BookID,
			Title:    l.Book.Title,
			Author:   l.Book.Author,
			CoverURL: l.Book.CoverURL,
			Quantity: l.Quantity,
			Stock:    l.Book.Stock,
			AddedAt:  l.AddedAt,
		}
		if i < len(q.Lines) {
			item.ListPrice = q.Lines[i].ListPrice.InexactFloat64()
			item.UnitPrice = q.Lines[i].UnitPrice.InexactFloat64()
			item.LineTotal = q.Lines[i].Total.InexactFloat64()
		}
		resp.Items[i] = item
	}
	return resp
}

type cartItemRequest struct {
	BookID   string `json:"bookId"`
	Quantity int    `json:"quantity"`
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, userID string, code int) {
	v, err := h.Carts.View(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, code, cartJSON(v))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, p.UserID, http.StatusOK)
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	errs := validation.Errors{}
	errs.Check(req.BookID != "", "bookId", "is required")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.Carts.Add(r.Context(), p.UserID, req.BookID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, p.UserID, http.StatusOK)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.Carts.Update(r.Context(), p.UserID, r.PathValue("bookId"), req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, p.UserID, http.StatusOK)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Carts.Remove(r.Context(), p.UserID, r.PathValue("bookId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Carts.Clear(r.Context(), p.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
