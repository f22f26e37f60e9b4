package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/services"
)

// ─── Error Mapping Tests ───

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		code     string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"email": "Invalid email format"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", &services.ConflictError{Message: "You already have an open session"}, http.StatusConflict, "CONFLICT"},
		{"invalid transition", &services.InvalidTransitionError{Message: "Command ignored: session is paused"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"not found", &services.NotFoundError{Message: "Session not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", &services.UnauthorizedError{Message: "Invalid email or password"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forbidden", &services.ForbiddenError{Message: "Session belongs to another user"}, http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/start", nil)
			rr := httptest.NewRecorder()

			handleServiceError(rr, req, tc.err)

			if rr.Code != tc.expected {
				t.Errorf("Expected status %d, got %d", tc.expected, rr.Code)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if resp.Error.Code != tc.code {
				t.Errorf("Expected code %q, got %q", tc.code, resp.Error.Code)
			}
		})
	}
}

func TestErrorResponseCarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-Request-ID", "req-123")

	resp := errorResp("NOT_FOUND", "Session not found", req)
	if resp.Error.RequestID != "req-123" {
		t.Errorf("Expected request id 'req-123', got %q", resp.Error.RequestID)
	}
}

// ─── Request Parsing Tests ───

func TestRegisterRequestParsing(t *testing.T) {
	body := map[string]string{
		"name":     "Test User",
		"email":    "test@example.com",
		"password": "StrongPass123",
	}
	jsonBody, _ := json.Marshal(body)

	var parsed models.RegisterRequest
	if err := json.NewDecoder(bytes.NewReader(jsonBody)).Decode(&parsed); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}

	if parsed.Name != "Test User" {
		t.Errorf("Expected name 'Test User', got %q", parsed.Name)
	}
	if parsed.Email != "test@example.com" {
		t.Errorf("Expected email 'test@example.com', got %q", parsed.Email)
	}
}

func TestSessionCommandRejectsBadID(t *testing.T) {
	h := NewSessionHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/not-a-uuid/pause", nil)
	rr := httptest.NewRecorder()
	h.Pause(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed session id, got %d", rr.Code)
	}

	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %q", resp.Error.Code)
	}
}

// ─── JSON Response Tests ───

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()

	writeJSON(rr, http.StatusCreated, map[string]string{"message": "Session started"})

	if rr.Code != http.StatusCreated {
		t.Errorf("Expected 201, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got %q", rr.Header().Get("Content-Type"))
	}

	var result map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["message"] != "Session started" {
		t.Errorf("Expected message 'Session started', got %q", result["message"])
	}
}
