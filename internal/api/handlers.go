package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/database"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/server"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/stats"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type AccountResponse struct {
	Id           int        `json:"id"`
	Username     string     `json:"username"`
	EmailAddress string     `json:"email_address,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Role         types.Role `json:"role,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func accountResponse(u database.User) AccountResponse {
	return AccountResponse{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		AvatarURL:    u.AvatarURL,
		Role:         types.Role(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "error", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
		Role:         string(types.RoleParticipant),
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, accountResponse(newUser))
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, accountResponse(user))
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Email == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, s.tokenTTL)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.tokenTTL))

	s.writeJson(w, http.StatusOK, accountResponse(dbUser))
}

func (s *ChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	convs, err := s.store.ListConversations(r.Context(), userId, page)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *ChatApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req types.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantId <= 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	conv, err := s.store.GetOrCreateConversation(r.Context(), userId, req.ParticipantId, req.ConversationContext)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *ChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	conversationId := r.PathValue("id")
	if conversationId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), conversationId, userId, page)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req types.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	conversationId := req.ConversationId
	if conversationId == "" {
		if req.ReceiverId <= 0 {
			s.writeError(w, NewBadRequestError())
			return
		}

		conv, err := s.store.GetOrCreateConversation(r.Context(), userId, req.ReceiverId, req.ConversationContext)
		if err != nil {
			s.writeError(w, storeError(err))
			return
		}
		conversationId = conv.Id
	}

	msg, err := s.store.AppendMessage(r.Context(), conversationId, userId, req.Content, req.Attachments)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if s.stats != nil {
		s.stats.Incr(stats.MessagesSent)
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req types.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	n, err := s.store.MarkRead(r.Context(), req.ConversationId, userId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.CountResponse{Count: n})
}

func (s *ChatApp) unreadCount(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	n, err := s.store.UnreadCount(r.Context(), userId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.CountResponse{Count: n})
}

func (s *ChatApp) userPresence(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	s.writeJson(w, http.StatusOK, types.PresenceResponse{
		UserId:      id,
		Online:      s.presence.IsOnline(id),
		Connections: s.presence.Connections(id),
	})
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no origin
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade connection", "error", err)
		return
	}

	client := server.NewClient(types.User{
		Id:        user.Id,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Role:      types.Role(user.Role),
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

// parsePage reads the before, after and limit query parameters.
func parsePage(r *http.Request) (types.Page, error) {
	var (
		page types.Page
		err  error
	)

	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("before")); v != "" {
		if page.Before, err = strconv.ParseInt(v, 10, 64); err != nil || page.Before < 0 {
			return types.Page{}, errors.New("invalid before")
		}
	}
	if v := strings.TrimSpace(q.Get("after")); v != "" {
		if page.After, err = strconv.ParseInt(v, 10, 64); err != nil || page.After < 0 {
			return types.Page{}, errors.New("invalid after")
		}
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if page.Limit, err = strconv.Atoi(v); err != nil || page.Limit < 0 {
			return types.Page{}, errors.New("invalid limit")
		}
	}

	return page, nil
}
