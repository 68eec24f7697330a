package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-realtime-chat/internal/auth"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// findCookie returns the named cookie from the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	if s, ok := v.(string); ok {
		return bytes.NewBufferString(s)
	}
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name     string
		mockErr  error
		expected int
	}{
		{name: "successful health check", expected: http.StatusOK},
		{name: "failed health check", mockErr: errors.New("db error"), expected: http.StatusServiceUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			app, _ := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.expected, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	validReq := RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password",
	}

	tcases := []struct {
		name        string
		body        any
		callsDB     bool
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:    "successfully creates a new account",
			body:    validReq,
			callsDB: true,
		},
		{
			name:        "invalid json body",
			body:        "invalid json",
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "missing username",
			body:        RegisterRequest{Email: validReq.Email, Password: "password"},
			expectedErr: NewValidationError("username, email and password are required"),
		},
		{
			name:        "blank email",
			body:        RegisterRequest{Username: "alice", Email: "  ", Password: "password"},
			expectedErr: NewValidationError("username, email and password are required"),
		},
		{
			name:        "username with dm separator",
			body:        RegisterRequest{Username: "a_b", Email: "ab@example.com", Password: "password"},
			expectedErr: NewValidationError("username may only contain letters, digits, dots and hyphens"),
		},
		{
			name:        "username with spaces",
			body:        RegisterRequest{Username: "al ice", Email: validReq.Email, Password: "password"},
			expectedErr: NewValidationError("username may only contain letters, digits, dots and hyphens"),
		},
		{
			name:        "duplicate account",
			body:        validReq,
			callsDB:     true,
			mockErr:     database.ErrDuplicate,
			expectedErr: NewValidationError("username or email already registered"),
		},
		{
			name:        "database error",
			body:        validReq,
			callsDB:     true,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.callsDB {
				mockRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(p database.CreateUserParams) bool {
					return p.Username == "alice" &&
						p.EmailAddress == "alice@example.com" &&
						auth.VerifyPassword(p.PasswordHash, "password")
				})).Return(database.User{Id: 1, Username: "alice"}, tc.mockErr).Once()
			}

			app, _ := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/auth/register", jsonBody(t, tc.body))
			app.Handler().ServeHTTP(rr, req)

			if tc.expectedErr != nil {
				var errResp ApiError
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code)
				assert.Equal(t, tc.expectedErr.Message, errResp.Message)
				return
			}

			assert.Equal(t, http.StatusCreated, rr.Code)
			var resp RegisterResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "User created successfully", resp.Message)
			assert.Equal(t, 1, resp.UserId)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	pwdHash, err := auth.HashPassword("password")
	require.NoError(t, err)

	dbUser := database.User{
		Id:           1,
		Username:     "alice",
		EmailAddress: "alice@example.com",
		PasswordHash: pwdHash,
		Status:       "offline",
	}

	tcases := []struct {
		name         string
		body         any
		callsDB      bool
		mockErr      error
		expectedCode int
	}{
		{
			name:         "successful login",
			body:         LoginRequest{Email: dbUser.EmailAddress, Password: "password"},
			callsDB:      true,
			expectedCode: http.StatusOK,
		},
		{
			name:         "wrong password",
			body:         LoginRequest{Email: dbUser.EmailAddress, Password: "nope"},
			callsDB:      true,
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "unknown email",
			body:         LoginRequest{Email: dbUser.EmailAddress, Password: "password"},
			callsDB:      true,
			mockErr:      database.ErrNotFound,
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "database error",
			body:         LoginRequest{Email: dbUser.EmailAddress, Password: "password"},
			callsDB:      true,
			mockErr:      errors.New("db error"),
			expectedCode: http.StatusInternalServerError,
		},
		{
			name:         "missing password",
			body:         LoginRequest{Email: dbUser.EmailAddress},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "invalid json body",
			body:         "{",
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.callsDB {
				mockRepo.On("GetUserByEmail", mock.Anything, dbUser.EmailAddress).
					Return(dbUser, tc.mockErr).Once()
			}

			app, tokens := newTestApp(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/auth/login", jsonBody(t, tc.body))
			app.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode != http.StatusOK {
				assert.Nil(t, findCookie(rr, tokenCookieKey), "expected no token cookie")
				return
			}

			var resp LoginResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "bearer", resp.TokenType)
			assert.Equal(t, types.User{Id: 1, Username: "alice", Email: "alice@example.com", Status: types.StatusOffline}, resp.User)

			userId, err := tokens.Verify(req.Context(), resp.AccessToken)
			require.NoError(t, err, "expected issued token to verify")
			assert.Equal(t, 1, userId)

			cookie := findCookie(rr, tokenCookieKey)
			require.NotNil(t, cookie, "expected token cookie to be set")
			assert.Equal(t, resp.AccessToken, cookie.Value)
		})
	}
}

func Test_getMessages(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := []database.Message{
		{Id: 4, Content: "first", Username: "bob", RoomId: 1, CreatedAt: ts},
		{Id: 5, Content: "second", Username: "alice", RoomId: 1, CreatedAt: ts.Add(time.Second)},
	}

	tcases := []struct {
		name         string
		path         string
		setup        func(m *database.MockChatRepository)
		expectedCode int
		expectedIds  []int
	}{
		{
			name: "public room defaults",
			path: "/messages/1",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 1).Return(database.Room{Id: 1, Type: "public"}, nil).Once()
				m.On("GetMessages", mock.Anything, 1, 0, 50).Return(history, nil).Once()
			},
			expectedCode: http.StatusOK,
			expectedIds:  []int{4, 5},
		},
		{
			name: "cursor and limit",
			path: "/messages/1?before=10&limit=5",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 1).Return(database.Room{Id: 1, Type: "public"}, nil).Once()
				m.On("GetMessages", mock.Anything, 1, 10, 5).Return(history[:1], nil).Once()
			},
			expectedCode: http.StatusOK,
			expectedIds:  []int{4},
		},
		{
			name: "limit is capped",
			path: "/messages/1?limit=1000",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 1).Return(database.Room{Id: 1, Type: "public"}, nil).Once()
				m.On("GetMessages", mock.Anything, 1, 0, 200).Return([]database.Message{}, nil).Once()
			},
			expectedCode: http.StatusOK,
			expectedIds:  []int{},
		},
		{
			name: "dm room member",
			path: "/messages/3",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 3).Return(database.Room{Id: 3, Type: "dm"}, nil).Once()
				m.On("MembershipExists", mock.Anything, 1, 3).Return(true, nil).Once()
				m.On("GetMessages", mock.Anything, 3, 0, 50).Return(history[1:], nil).Once()
			},
			expectedCode: http.StatusOK,
			expectedIds:  []int{5},
		},
		{
			name: "dm room non member",
			path: "/messages/3",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 3).Return(database.Room{Id: 3, Type: "dm"}, nil).Once()
				m.On("MembershipExists", mock.Anything, 1, 3).Return(false, nil).Once()
			},
			expectedCode: http.StatusForbidden,
		},
		{
			name: "unknown room",
			path: "/messages/9",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 9).Return(database.Room{}, database.ErrNotFound).Once()
			},
			expectedCode: http.StatusNotFound,
		},
		{
			name: "store failure",
			path: "/messages/1",
			setup: func(m *database.MockChatRepository) {
				m.On("GetRoomById", mock.Anything, 1).Return(database.Room{}, errors.New("db error")).Once()
			},
			expectedCode: http.StatusInternalServerError,
		},
		{name: "non numeric room", path: "/messages/general", expectedCode: http.StatusBadRequest},
		{name: "zero room", path: "/messages/0", expectedCode: http.StatusBadRequest},
		{name: "bad limit", path: "/messages/1?limit=ten", expectedCode: http.StatusBadRequest},
		{name: "negative cursor", path: "/messages/1?before=-1", expectedCode: http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(mockRepo)
			}

			app, tokens := newTestApp(t, mockRepo)
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Authorization", bearer(t, tokens, 1))
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, req)

			require.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode != http.StatusOK {
				return
			}

			var resp MessagesResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			ids := make([]int, 0, len(resp.Messages))
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
			}
			assert.Equal(t, tc.expectedIds, ids)
		})
	}
}

func Test_listDMs(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("summaries", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListDMRooms", mock.Anything, 1).Return([]database.DMRoom{{
			Room:          database.Room{Id: 3, Name: "alice_bob", Type: "dm"},
			OtherUserId:   2,
			OtherUsername: "bob",
		}}, nil).Once()
		mockRepo.On("GetLastMessage", mock.Anything, 3).
			Return(database.Message{Id: 8, Content: "hello", RoomId: 3, CreatedAt: ts}, nil).Once()
		mockRepo.On("CountUnread", mock.Anything, 1, 3).Return(2, nil).Once()

		app, tokens := newTestApp(t, mockRepo)
		req := httptest.NewRequest(http.MethodGet, "/dms", nil)
		req.Header.Set("Authorization", bearer(t, tokens, 1))
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp DMListResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.DMs, 1)
		dm := resp.DMs[0]
		assert.Equal(t, 3, dm.Id)
		assert.Equal(t, "bob", dm.WithUser)
		assert.Equal(t, 2, dm.WithUserId)
		assert.Equal(t, "hello", dm.LastMessage)
		require.NotNil(t, dm.LastMessageTime)
		assert.True(t, ts.Equal(*dm.LastMessageTime))
		assert.Equal(t, 2, dm.UnreadCount)
	})

	t.Run("no dms", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListDMRooms", mock.Anything, 1).Return([]database.DMRoom{}, nil).Once()

		app, tokens := newTestApp(t, mockRepo)
		req := httptest.NewRequest(http.MethodGet, "/dms", nil)
		req.Header.Set("Authorization", bearer(t, tokens, 1))
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"dms":[]}`, rr.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListDMRooms", mock.Anything, 1).Return(nil, errors.New("db error")).Once()

		app, tokens := newTestApp(t, mockRepo)
		req := httptest.NewRequest(http.MethodGet, "/dms", nil)
		req.Header.Set("Authorization", bearer(t, tokens, 1))
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_markRead(t *testing.T) {
	tcases := []struct {
		name         string
		mockErr      error
		expectedCode int
	}{
		{name: "member", expectedCode: http.StatusNoContent},
		{name: "not a member", mockErr: database.ErrNotFound, expectedCode: http.StatusForbidden},
		{name: "store failure", mockErr: errors.New("db error"), expectedCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("MarkRoomRead", mock.Anything, 1, 3, mock.AnythingOfType("time.Time")).Return(tc.mockErr).Once()

			app, tokens := newTestApp(t, mockRepo)
			req := httptest.NewRequest(http.MethodPost, "/rooms/3/read", nil)
			req.Header.Set("Authorization", bearer(t, tokens, 1))
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
		})
	}
}
