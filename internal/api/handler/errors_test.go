package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ipenrich/internal/api/middleware"
	"github.com/timmy/ipenrich/internal/repository"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("get job: %w", repository.ErrJobNotFound), http.StatusNotFound},
		{"duplicate", repository.ErrJobExists, http.StatusConflict},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(middleware.LoggerMiddleware())
			r.GET("/", func(c *gin.Context) { respondError(c, tt.err) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "req-42")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if tt.status != http.StatusInternalServerError {
				if body["error"] != tt.err.Error() {
					t.Errorf("error = %q", body["error"])
				}
				return
			}
			if body["request_id"] != "req-42" {
				t.Errorf("request_id = %q, want req-42", body["request_id"])
			}
			if strings.Contains(w.Body.String(), "disk on fire") {
				t.Errorf("internal detail leaked: %s", w.Body.String())
			}
		})
	}
}
