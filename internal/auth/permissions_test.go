package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role      Role
		should    []Permission
		shouldNot []Permission
	}{
		{
			role:      RoleViewer,
			should:    []Permission{PermScriptRead, PermStatusRead},
			shouldNot: []Permission{PermRunExecute, PermRunCancel, PermBackgroundOps, PermQueueOps, PermSystemStop, PermScriptManage},
		},
		{
			role:      RoleOperator,
			should:    []Permission{PermScriptRead, PermStatusRead, PermRunExecute, PermRunCancel, PermBackgroundOps, PermQueueOps, PermSystemStop},
			shouldNot: []Permission{PermScriptManage},
		},
		{
			role:   RoleAdmin,
			should: []Permission{PermScriptRead, PermStatusRead, PermRunExecute, PermRunCancel, PermBackgroundOps, PermQueueOps, PermSystemStop, PermScriptManage},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, perm := range tt.should {
				if !HasPermission(tt.role, perm) {
					t.Errorf("%s should have %s", tt.role, perm)
				}
			}
			for _, perm := range tt.shouldNot {
				if HasPermission(tt.role, perm) {
					t.Errorf("%s should NOT have %s", tt.role, perm)
				}
			}
		})
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission(Role("owner"), PermScriptRead) {
		t.Error("unknown role should have no permissions")
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) != 8 {
		t.Fatalf("admin permissions = %d, want 8", len(perms))
	}

	// Returned slice is a copy.
	perms[0] = "tampered"
	if PermissionsForRole(RoleAdmin)[0] == "tampered" {
		t.Error("PermissionsForRole returned the internal slice")
	}

	if PermissionsForRole(Role("nobody")) != nil {
		t.Error("unknown role should return nil")
	}
}
