package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/v1/check":                             "/v1/check",
		"/v1/worlds/main":                       "/v1/worlds/:world",
		"/v1/worlds/main/groups":                "/v1/worlds/:world/groups",
		"/v1/worlds/main/groups/admin":          "/v1/worlds/:world/groups/:id",
		"/v1/worlds/main/users/uuid-1/check":    "/v1/worlds/:world/users/:id/check",
		"/v1/worlds/main/users/uuid-1?perm=x":   "/v1/worlds/:world/users/:id",
		"/v1/globalgroups":                      "/v1/globalgroups",
		"/v1/globalgroups/staff":                "/v1/globalgroups/:name",
		"/v1/globalgroups/staff/permissions":    "/v1/globalgroups/:name/permissions",
		"/v1/reload/nether":                     "/v1/reload/:world",
		"/v1/worlds/nether/users/u/permissions": "/v1/worlds/:world/users/:id/permissions",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
