package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callcenter-dispatch/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, id auth.Identity, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}, RequireTenant(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleSuperAdmin}, RoleOwner); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AgentDeniedForManagement(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleAgent}, RoleOwner, RoleSupervisor); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_SupervisorAllowed(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleSupervisor}, RoleOwner, RoleSupervisor); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireTenant_Required(t *testing.T) {
	if code := serve(t, auth.Identity{UserID: "u", Role: RoleOwner}, RoleOwner); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestCanManage(t *testing.T) {
	if CanManage(RoleAgent) {
		t.Fatalf("agent must not manage")
	}
	if !CanManage(RoleSupervisor) || !CanManage(RoleOwner) {
		t.Fatalf("supervisor and owner manage")
	}
}

func TestRequireManager(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		role string
		want int
	}{
		{RoleOwner, 200},
		{RoleSupervisor, 200},
		{RoleSuperAdmin, 200},
		{RoleAgent, 403},
		{"", 401},
	}
	for _, tc := range cases {
		id := auth.Identity{UserID: "u", TenantID: "t", Role: tc.role}
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
			c.Next()
		}, RequireManager(), func(c *gin.Context) {
			c.Status(200)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != tc.want {
			t.Fatalf("role %q: expected %d, got %d", tc.role, tc.want, w.Code)
		}
	}
}
