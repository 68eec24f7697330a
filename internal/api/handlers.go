package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

type DMListResponse struct {
	DMs []types.DMSummary `json:"dms"`
}

type MessagesResponse struct {
	Messages []types.Message `json:"messages"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Error(errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// pipelineError maps message pipeline failures to responses.
func pipelineError(err error) *ApiError {
	switch {
	case errors.Is(err, server.ErrUnknownRoom):
		return NewNotFoundError()
	case errors.Is(err, server.ErrNotMember):
		return NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) listDMs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dms, err := s.cs.Pipeline().ListDMs(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, DMListResponse{DMs: dms})
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathRoomId(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	var before, limit int

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = strconv.Atoi(beforeStr)
		if err != nil || before < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	messages, err := s.cs.Pipeline().FetchHistory(r.Context(), userId, roomId, limit, before)
	if err != nil {
		s.writeError(w, pipelineError(err))
		return
	}

	userMessages := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		userMessages = append(userMessages, toMessage(msg))
	}

	s.writeJson(w, http.StatusOK, MessagesResponse{Messages: userMessages})
}

func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, err := pathRoomId(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.cs.Pipeline().MarkRead(r.Context(), userId, roomId); err != nil {
		s.writeError(w, pipelineError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// serveWs upgrades the connection. Identity is established in-band with
// the authenticate event, so no token is required here.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("request_id", RequestId(r.Context())).Errorf("error upgrading connection: %v", err)
		return
	}

	s.cs.Serve(conn)
}

func pathRoomId(r *http.Request) (int, error) {
	roomId, err := strconv.Atoi(mux.Vars(r)["room_id"])
	if err != nil {
		return 0, err
	}
	if roomId <= 0 {
		return 0, strconv.ErrRange
	}

	return roomId, nil
}

func toMessage(msg database.Message) types.Message {
	return types.Message{
		Id:        msg.Id,
		Message:   msg.Content,
		Username:  msg.Username,
		RoomId:    msg.RoomId,
		Timestamp: msg.CreatedAt,
		ReplyTo:   msg.ReplyTo,
	}
}
