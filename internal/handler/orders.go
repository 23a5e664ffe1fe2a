package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/order"
	"github.com/xenking/bookshop/internal/validation"
)

type orderItemResponse struct {
	BookID       string  `json:"bookId,omitempty"`
	Title        string  `json:"title"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
	UnitDiscount float64 `json:"unitDiscount"`
	Total        float64 `json:"total"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	Status          order.Status        `json:"status"`
	Items           []orderItemResponse `json:"items"`
	Subtotal        float64             `json:"subtotal"`
	DiscountAmount  float64             `json:"discountAmount"`
	FinalAmount     float64             `json:"finalAmount"`
	BulkDiscount    bool                `json:"bulkDiscount"`
	LoyaltyDiscount bool                `json:"loyaltyDiscount"`
	ClaimCode       string              `json:"claimCode"`
	ClaimCodeUsed   bool                `json:"claimCodeUsed"`
	FulfilledBy     string              `json:"fulfilledBy,omitempty"`
	FulfilledAt     *time.Time          `json:"fulfilledAt,omitempty"`
	CancelledAt     *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func orderJSON(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			BookID:       it.BookID,
			Title:        it.Title,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.InexactFloat64(),
			UnitDiscount: it.UnitDiscount.InexactFloat64(),
			Total:        it.Total().InexactFloat64(),
		}
	}
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		Items:           items,
		Subtotal:        o.Subtotal.InexactFloat64(),
		DiscountAmount:  o.DiscountAmount.InexactFloat64(),
		FinalAmount:     o.FinalAmount.InexactFloat64(),
		BulkDiscount:    o.BulkDiscount,
		LoyaltyDiscount: o.LoyaltyDiscount,
		ClaimCode:       o.ClaimCode,
		ClaimCodeUsed:   o.ClaimCodeUsed,
		FulfilledBy:     o.FulfilledBy,
		FulfilledAt:     o.FulfilledAt,
		CancelledAt:     o.CancelledAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func ordersJSON(list []order.Order) []orderResponse {
	out := make([]orderResponse, len(list))
	for i := range list {
		out[i] = orderJSON(&list[i])
	}
	return out
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Place(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderJSON(o))
}

// listOrders returns the caller's orders. With all=true, staff see every
// order, optionally narrowed by userId.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	errs := validation.Errors{}
	all := queryBool(r, errs, "all")
	q := order.ListQuery{
		UserID: p.UserID,
		Status: order.Status(strings.ToLower(r.URL.Query().Get("status"))),
		Limit:  queryInt(r, errs, "limit"),
	}
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if all {
		if !p.Can(auth.CapOrdersViewAll) {
			writeError(w, r, auth.ErrForbidden)
			return
		}
		q.UserID = r.URL.Query().Get("userId")
	}

	var list []order.Order
	if !all && q.Status == "" && q.Limit == 0 {
		list, err = h.Orders.ListForUser(r.Context(), p.UserID)
	} else {
		list, err = h.Orders.List(r.Context(), q)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersJSON(list))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Get(r.Context(), r.PathValue("id"), order.Actor{
		UserID:     p.UserID,
		Privileged: p.Can(auth.CapOrdersViewAll),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapShop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), r.PathValue("id"), order.Actor{
		UserID:     p.UserID,
		Privileged: p.Can(auth.CapOrdersFulfill),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(o))
}

type claimRequest struct {
	Code string `json:"code"`
}

func (h *Handler) claimOrder(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapOrdersFulfill)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	errs := validation.Errors{}
	errs.Check(strings.TrimSpace(req.Code) != "", "code", "is required")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Claim(r.Context(), req.Code, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(o))
}
