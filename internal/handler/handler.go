// Package handler exposes the bookshop REST API over net/http.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/xenking/bookshop/internal/domain/announcement"
	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/domain/bookmark"
	"github.com/xenking/bookshop/internal/domain/cart"
	"github.com/xenking/bookshop/internal/domain/order"
	"github.com/xenking/bookshop/internal/domain/review"
	"github.com/xenking/bookshop/pkg/httpmiddleware"
)

// Accounts is the subset of *auth.Service used by handlers.
type Accounts interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
	SetRole(ctx context.Context, userID string, role auth.Role) error
}

// Carts is implemented by *cart.Service.
type Carts interface {
	Add(ctx context.Context, userID, bookID string, qty int) (*cart.Item, error)
	Update(ctx context.Context, userID, bookID string, qty int) (*cart.Item, error)
	Remove(ctx context.Context, userID, bookID string) error
	Clear(ctx context.Context, userID string) error
	View(ctx context.Context, userID string) (*cart.View, error)
}

// Orders is implemented by *order.Service.
type Orders interface {
	Place(ctx context.Context, userID string) (*order.Order, error)
	Cancel(ctx context.Context, id string, actor order.Actor) (*order.Order, error)
	Claim(ctx context.Context, code, staffID string) (*order.Order, error)
	Get(ctx context.Context, id string, actor order.Actor) (*order.Order, error)
	ListForUser(ctx context.Context, userID string) ([]order.Order, error)
	List(ctx context.Context, q order.ListQuery) ([]order.Order, error)
}

// Reviews is implemented by *review.Service.
type Reviews interface {
	ListByBook(ctx context.Context, bookID string) ([]review.Review, review.Summary, error)
	Get(ctx context.Context, id string) (*review.Review, error)
	Create(ctx context.Context, userID, bookID string, rating int, comment string) (*review.Review, error)
	Update(ctx context.Context, id string, actor review.Actor, rating int, comment string) (*review.Review, error)
	Delete(ctx context.Context, id string, actor review.Actor) error
}

// Bookmarks is implemented by *bookmark.Service.
type Bookmarks interface {
	List(ctx context.Context, userID string) ([]bookmark.Bookmark, error)
	Add(ctx context.Context, userID, bookID string) error
	Remove(ctx context.Context, userID, bookID string) error
}

// Announcements is implemented by *announcement.Service.
type Announcements interface {
	List(ctx context.Context, includeHidden bool) ([]announcement.Announcement, error)
	Create(ctx context.Context, authorID string, in announcement.Input) (*announcement.Announcement, error)
	Update(ctx context.Context, id string, in announcement.Input) (*announcement.Announcement, error)
	Delete(ctx context.Context, id string) error
}

// Covers stores uploaded cover images. Implemented by *upload.Store.
type Covers interface {
	Save(r io.Reader) (string, error)
	Remove(url string) error
	MaxBytes() int64
	PublicPath() string
	Handler() http.Handler
}

// Deps are the services behind the API.
type Deps struct {
	Accounts      Accounts
	Books         book.Repository
	Carts         Carts
	Orders        Orders
	Reviews       Reviews
	Bookmarks     Bookmarks
	Announcements Announcements
	Covers        Covers
	// Hub serves the order feed websocket. Optional.
	Hub http.Handler
	// LoginLimit guards the register and login routes. Optional.
	LoginLimit httpmiddleware.Middleware
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// Handler serves the REST API.
type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Routes registers every API route on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	guard := func(f http.HandlerFunc) http.Handler {
		if h.LoginLimit == nil {
			return f
		}
		return h.LoginLimit(f)
	}
	mux.Handle("POST /api/Auth/register", guard(h.register))
	mux.Handle("POST /api/Auth/login", guard(h.login))
	mux.HandleFunc("POST /api/Auth/logout", h.logout)
	mux.HandleFunc("GET /api/Auth/me", h.me)

	mux.HandleFunc("GET /api/Books", h.listBooks)
	mux.HandleFunc("GET /api/Books/{id}", h.getBook)
	mux.HandleFunc("POST /api/Books", h.createBook)
	mux.HandleFunc("PUT /api/Books/{id}", h.updateBook)
	mux.HandleFunc("DELETE /api/Books/{id}", h.deleteBook)

	mux.HandleFunc("GET /api/Cart", h.getCart)
	mux.HandleFunc("POST /api/Cart", h.addToCart)
	mux.HandleFunc("PUT /api/Cart/{bookId}", h.updateCartItem)
	mux.HandleFunc("DELETE /api/Cart/{bookId}", h.removeCartItem)
	mux.HandleFunc("DELETE /api/Cart", h.clearCart)

	mux.HandleFunc("POST /api/Orders", h.placeOrder)
	mux.HandleFunc("GET /api/Orders", h.listOrders)
	mux.HandleFunc("GET /api/Orders/{id}", h.getOrder)
	mux.HandleFunc("PUT /api/Orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/Orders/claim-code", h.claimOrder)

	mux.HandleFunc("GET /api/Bookmarks", h.listBookmarks)
	mux.HandleFunc("POST /api/Bookmarks", h.addBookmark)
	mux.HandleFunc("DELETE /api/Bookmarks/{bookId}", h.removeBookmark)

	mux.HandleFunc("GET /api/Reviews", h.listReviews)
	mux.HandleFunc("POST /api/Reviews", h.createReview)
	mux.HandleFunc("GET /api/Reviews/{id}", h.getReview)
	mux.HandleFunc("PUT /api/Reviews/{id}", h.updateReview)
	mux.HandleFunc("DELETE /api/Reviews/{id}", h.deleteReview)

	mux.HandleFunc("GET /api/Announcements", h.listAnnouncements)
	mux.HandleFunc("POST /api/Announcements", h.createAnnouncement)
	mux.HandleFunc("PUT /api/Announcements/{id}", h.updateAnnouncement)
	mux.HandleFunc("DELETE /api/Announcements/{id}", h.deleteAnnouncement)

	mux.HandleFunc("POST /api/Uploads/book-cover", h.uploadCover)
	mux.HandleFunc("PUT /api/Users/{id}/role", h.setRole)

	if h.Covers != nil {
		mux.Handle("GET "+h.Covers.PublicPath(), h.Covers.Handler())
	}
	if h.Hub != nil {
		mux.Handle("GET /hubs/orders", h.Hub)
	}
}
