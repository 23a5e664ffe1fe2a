package handler

import (
	"net/http"
	"time"

	"github.com/xenking/bookshop/internal/domain/announcement"
	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/validation"
)

type announcementResponse struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	AuthorID  string     `json:"authorId,omitempty"`
	StartsAt  *time.Time `json:"startsAt,omitempty"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func announcementJSON(a *announcement.Announcement) announcementResponse {
	return announcementResponse{
		ID:        a.ID,
		Title:     a.Title,
		Body:      a.Body,
		AuthorID:  a.AuthorID,
		StartsAt:  a.StartsAt,
		EndsAt:    a.EndsAt,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type announcementRequest struct {
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	StartsAt *time.Time `json:"startsAt"`
	EndsAt   *time.Time `json:"endsAt"`
}

func (req announcementRequest) input() announcement.Input {
	return announcement.Input{
		Title:    req.Title,
		Body:     req.Body,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	}
}

// listAnnouncements shows visible announcements. Managers may pass all=true
// to include scheduled and expired ones.
func (h *Handler) listAnnouncements(w http.ResponseWriter, r *http.Request) {
	errs := validation.Errors{}
	all := queryBool(r, errs, "all")
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}
	if all {
		if _, err := principal(r, auth.CapAnnouncementsManage); err != nil {
			writeError(w, r, err)
			return
		}
	}
	list, err := h.Announcements.List(r.Context(), all)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]announcementResponse, len(list))
	for i := range list {
		out[i] = announcementJSON(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createAnnouncement(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r, auth.CapAnnouncementsManage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req announcementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Announcements.Create(r.Context(), p.UserID, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, announcementJSON(a))
}

func (h *Handler) updateAnnouncement(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, auth.CapAnnouncementsManage); err != nil {
		writeError(w, r, err)
		return
	}
	var req announcementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Announcements.Update(r.Context(), r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, announcementJSON(a))
}

func (h *Handler) deleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, auth.CapAnnouncementsManage); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Announcements.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
