// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/testutil"
)

func TestJoinChat(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)
	fx := testutil.CreateTestChat(t, db, cfg, nil)

	tests := []struct {
		name           string
		code           string
		requestBody    interface{}
		expectedStatus int
		checkResponse  func(t *testing.T, resp *models.JoinChatResponse)
	}{
		{
			name:           "valid join",
			code:           fx.InviteCode,
			requestBody:    models.JoinChatRequest{DisplayName: "Alice"},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *models.JoinChatResponse) {
				if resp.ChatID != fx.Chat.ID {
					t.Errorf("Expected chat %s, got %s", fx.Chat.ID, resp.ChatID)
				}

				// Only the hash is stored
				var stored, status string
				err := db.QueryRow(`SELECT token, status FROM participant WHERE id = $1`, resp.ParticipantID).Scan(&stored, &status)
				if err != nil {
					t.Fatalf("Failed to query participant: %v", err)
				}
				if stored == resp.ParticipantToken {
					t.Error("Expected token to be stored hashed")
				}
				want, _ := auth.HashToken(resp.ParticipantToken, cfg.HostKeySalt)
				if stored != want {
					t.Error("Stored token hash does not match")
				}
				if status != models.StatusActive {
					t.Errorf("Expected active, got %s", status)
				}
			},
		},
		{
			name:           "duplicate display name",
			code:           fx.InviteCode,
			requestBody:    models.JoinChatRequest{DisplayName: "Host"},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "unknown invite code",
			code:           "nope",
			requestBody:    models.JoinChatRequest{DisplayName: "Bob"},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "blank display name",
			code:           fx.InviteCode,
			requestBody:    models.JoinChatRequest{DisplayName: "   "},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "display name too long",
			code:           fx.InviteCode,
			requestBody:    models.JoinChatRequest{DisplayName: strings.Repeat("x", 51)},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/join/"+tt.code, tt.requestBody, nil)
			req.SetPathValue("code", tt.code)
			w := httptest.NewRecorder()

			handler.JoinChat(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.checkResponse != nil && w.Code == http.StatusCreated {
				var resp models.JoinChatResponse
				testutil.AssertJSON(t, w, &resp)
				tt.checkResponse(t, &resp)
			}
		})
	}
}

func TestLeaveChat(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)
	fx := testutil.CreateTestChat(t, db, cfg, nil)
	aliceID, aliceToken := testutil.AddTestParticipant(t, db, cfg, fx.Chat.ID, "Alice")

	leave := func(token string) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/chats/"+fx.Chat.ID+"/leave", nil, map[string]string{ParticipantTokenHeader: token})
		req.SetPathValue("id", fx.Chat.ID)
		w := httptest.NewRecorder()
		handler.LeaveChat(w, req)
		return w
	}

	testutil.AssertStatus(t, leave("bogus"), http.StatusUnauthorized)
	testutil.AssertStatus(t, leave(aliceToken), http.StatusOK)

	var status string
	if err := db.QueryRow(`SELECT status FROM participant WHERE id = $1`, aliceID).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != models.StatusLeft {
		t.Errorf("Expected left, got %s", status)
	}

	// A departed participant's token no longer authenticates
	testutil.AssertStatus(t, leave(aliceToken), http.StatusUnauthorized)
}

func TestKickParticipant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)
	fx := testutil.CreateTestChat(t, db, cfg, nil)
	aliceID, _ := testutil.AddTestParticipant(t, db, cfg, fx.Chat.ID, "Alice")

	tests := []struct {
		name           string
		participantID  string
		hostKey        string
		expectedStatus int
	}{
		{"wrong host key", aliceID, "bad", http.StatusUnauthorized},
		{"unknown participant", "missing", fx.HostKey, http.StatusNotFound},
		{"cannot kick host", fx.HostID, fx.HostKey, http.StatusConflict},
		{"kick participant", aliceID, fx.HostKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/chats/"+fx.Chat.ID+"/participants/"+tt.participantID+"/kick",
				nil, map[string]string{HostKeyHeader: tt.hostKey})
			req.SetPathValue("id", fx.Chat.ID)
			req.SetPathValue("pid", tt.participantID)
			w := httptest.NewRecorder()

			handler.KickParticipant(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM participant WHERE id = $1`, aliceID).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != models.StatusKicked {
		t.Errorf("Expected kicked, got %s", status)
	}
}
