package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleReader, ActionRead, true},
		{RoleReader, ActionAnnotate, false},
		{RoleReader, ActionComment, false},
		{RoleAnnotator, ActionAnnotate, true},
		{RoleAnnotator, ActionComment, true},
		{RoleAnnotator, ActionWrite, false},
		{RoleAuthor, ActionWrite, true},
		{RoleAuthor, ActionPublish, true},
		{RoleAuthor, ActionAdmin, false},
		{RoleAdmin, ActionAdmin, true},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("author") != RoleAuthor {
		t.Fatal("known role not preserved")
	}
	if Normalize("superuser") != RoleReader {
		t.Fatal("unknown role must fall back to reader")
	}
}
