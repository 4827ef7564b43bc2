package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

func TestListNormalizesAndDropsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications", r.URL.Path)
		assert.Equal(t, "Bearer cred-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"notifications": [
				{"id": "1", "type": "lesson_reminder", "title": "Daily lesson", "message": "Time to study", "priority": "high", "created_at": "2026-01-02T15:04:05Z"},
				{"title": "no id"},
				{"id": "2", "type": "weird_type", "title": "t", "message": "m", "priority": "urgent"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cred-1")
	list, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2, "record without id is dropped, not fatal")

	assert.Equal(t, types.ServerID("1"), list[0].ID)
	assert.Equal(t, types.PriorityHigh, list[0].Priority)
	// Unknown type and priority degrade instead of failing.
	assert.Equal(t, types.NotificationType("weird_type"), list[1].Type)
	assert.Equal(t, types.PriorityMedium, list[1].Priority)
}

func TestWriteRequestsCarryCSRFToken(t *testing.T) {
	var gotCSRF, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCSRF = r.Header.Get("X-CSRF-Token")
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cred")
	c.SetCSRFToken("csrf-abc")

	require.NoError(t, c.MarkRead(context.Background(), "server-1"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "csrf-abc", gotCSRF)
}

func TestGetRequestsOmitCSRFToken(t *testing.T) {
	var gotCSRF string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCSRF = r.Header.Get("X-CSRF-Token")
		_, _ = w.Write([]byte(`{"notifications": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cred")
	c.SetCSRFToken("csrf-abc")
	_, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotCSRF)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status   int
		wantType errors.ErrorType
	}{
		{http.StatusUnauthorized, errors.AuthExpiredError},
		{http.StatusForbidden, errors.ForbiddenError},
		{http.StatusNotFound, errors.NotFoundError},
		{http.StatusTooManyRequests, errors.RateLimitedError},
		{http.StatusInternalServerError, errors.ServerError},
		{http.StatusBadRequest, errors.ValidationError},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error": "nope"}`))
		}))

		c := NewClient(srv.URL, "cred")
		err := c.MarkAllRead(context.Background())
		require.Error(t, err, "status %d", tc.status)
		assert.True(t, errors.IsType(err, tc.wantType), "status %d classified as %v", tc.status, err)
		srv.Close()
	}
}

func TestNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, "cred")
	err := c.MarkAllRead(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.NetworkError))
	assert.True(t, errors.IsRetryable(err))
}

func TestSetCredentialTakesEffect(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "old")
	c.SetCredential("new")
	require.NoError(t, c.Delete(context.Background(), "server-9"))
	assert.Equal(t, "Bearer new", gotAuth)
}

func TestRegisterDeviceToken(t *testing.T) {
	var got types.DeviceTokenRegistration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/device-token", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cred")
	err := c.RegisterDeviceToken(context.Background(), types.DeviceTokenRegistration{
		Token:      "tok-123",
		DeviceType: types.DeviceTypeWeb,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got.Token)
	assert.Equal(t, types.DeviceTypeWeb, got.DeviceType)
}

func TestSettingsRoundTrip(t *testing.T) {
	stored := types.NotificationSettings{
		EmailEnabled: true,
		PushEnabled:  true,
		Types: map[types.NotificationType]bool{
			types.NotificationLessonReminder: false,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(stored)
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cred")

	got, err := c.GetSettings(context.Background())
	require.NoError(t, err)
	assert.False(t, got.TypeEnabled(types.NotificationLessonReminder))
	assert.True(t, got.TypeEnabled(types.NotificationAchievement), "absent types default to enabled")

	got.PushEnabled = false
	require.NoError(t, c.UpdateSettings(context.Background(), got))
	assert.False(t, stored.PushEnabled)
}

func TestHeartbeat(t *testing.T) {
	var got types.HeartbeatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/heartbeat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cred")
	err := c.Heartbeat(context.Background(), types.HeartbeatPayload{
		SessionID:  "sess-1",
		ErrorCount: 3,
		SentAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.EqualValues(t, 3, got.ErrorCount)
}
