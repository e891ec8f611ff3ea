package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/PaulBabatuyi/recircle-chat/internal/data"
)

// maxPageLimit caps one page of history.
const maxPageLimit = 200

// parsePage reads ?limit=&before=. A missing limit returns the full history.
func parsePage(r *http.Request) (data.Page, error) {
	q := r.URL.Query()
	page := data.Page{Before: q.Get("before")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return data.Page{}, fmt.Errorf("%w: limit must be a non-negative integer", errValidation)
		}
		page.Limit = min(n, maxPageLimit)
	}
	return page, nil
}

func (s *Server) getOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())

	id, err := s.convs.GetOrCreate(r.Context(), claims.UserID, r.PathValue("peerId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"conversationId": id})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())

	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.convs.GetConversation(r.Context(), r.PathValue("conversationId"), claims.UserID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"conversation": view})
}

func (s *Server) getLastChats(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())

	chats, err := s.convs.ListInbox(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"chats": chats})
}

func (s *Server) markSeen(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())

	err := s.channel.MarkSeen(r.Context(), claims.UserID, r.PathValue("conversationId"), r.PathValue("peerId"), "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "updated"})
}
