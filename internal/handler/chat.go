package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/orgchat/internal/middleware"
	"github.com/orgchat/internal/model"
	"github.com/orgchat/internal/service"
)

type ChatHandler struct {
	chats *service.ChatService
}

func NewChatHandler(chats *service.ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req service.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	detail, err := h.chats.CreateChat(r.Context(), orgID, userID, req)
	if err != nil {
		writeServiceError(w, "createChat", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	req := service.ListChatsRequest{
		Type:   model.ChatType(r.URL.Query().Get("type")),
		Status: model.ChatStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 50),
	}
	page, err := h.chats.ListChats(r.Context(), orgID, userID, req)
	if err != nil {
		writeServiceError(w, "listChats", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	detail, err := h.chats.GetChat(r.Context(), orgID, chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, "getChat", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	detail, err := h.chats.UpdateChat(r.Context(), orgID, chi.URLParam(r, "id"), userID, req)
	if err != nil {
		writeServiceError(w, "updateChat", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

// ArchiveChat toggles archived state. Missing body field means archive.
func (h *ChatHandler) ArchiveChat(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	archive := true
	if req.Archived != nil {
		archive = *req.Archived
	}
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	if err := h.chats.ArchiveChat(r.Context(), orgID, chi.URLParam(r, "id"), userID, archive); err != nil {
		writeServiceError(w, "archiveChat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	if err := h.chats.DeleteChat(r.Context(), orgID, chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, "deleteChat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req addMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	detail, err := h.chats.AddMembers(r.Context(), orgID, chi.URLParam(r, "id"), userID, req.MemberIDs)
	if err != nil {
		writeServiceError(w, "addMembers", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	err := h.chats.RemoveMember(r.Context(), orgID, chi.URLParam(r, "id"), userID, chi.URLParam(r, "memberId"))
	if err != nil {
		writeServiceError(w, "removeMember", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ChatHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	if err := h.chats.Leave(r.Context(), orgID, chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, "leaveChat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req service.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	msg, err := h.chats.SendMessage(r.Context(), orgID, chi.URLParam(r, "id"), userID, req)
	if err != nil {
		writeServiceError(w, "sendMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	req := service.GetMessagesRequest{
		Page:            queryInt(r, "page", 1),
		Limit:           queryInt(r, "limit", 50),
		BeforeMessageID: r.URL.Query().Get("before_message_id"),
	}
	page, err := h.chats.GetMessages(r.Context(), orgID, chi.URLParam(r, "id"), userID, req)
	if err != nil {
		writeServiceError(w, "getMessages", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	err := h.chats.DeleteMessage(r.Context(), orgID, chi.URLParam(r, "id"), userID, chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, "deleteMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ChatHandler) FlagMessage(w http.ResponseWriter, r *http.Request) {
	var req service.FlagMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	orgID := middleware.GetOrgID(r.Context())
	userID := middleware.GetUserID(r.Context())

	ticketID, err := h.chats.FlagMessage(r.Context(), orgID, chi.URLParam(r, "id"), userID, req)
	if err != nil {
		writeServiceError(w, "flagMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ticket_id": ticketID})
}
