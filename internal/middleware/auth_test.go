package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

func TestAuthMiddleware_WithValidBearer(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	want := model.Caller{ID: uuid.New(), Role: model.RoleShipper}

	token, err := m.IssueToken(want, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		got, ok := GetCallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller not in context")
		}
		if got != want {
			t.Fatalf("caller from context = %+v, want %+v", got, want)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.IssueToken(model.Caller{ID: uuid.New(), Role: model.RoleDriver}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(&http.Cookie{Name: authCookieName, Value: token})

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	expired, err := m.IssueToken(model.Caller{ID: uuid.New(), Role: model.RoleTrucker}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	foreign, err := other.IssueToken(model.Caller{ID: uuid.New(), Role: model.RoleTrucker}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	badRole, err := m.IssueToken(model.Caller{ID: uuid.New(), Role: model.Role("root")}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage", header: "Bearer abc.def.ghi"},
		{name: "expired", header: "Bearer " + expired},
		{name: "foreign signature", header: "Bearer " + foreign},
		{name: "unknown role", header: "Bearer " + badRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}
