package auth

// permissions are strings like "ocr:submit", "note:read_own", "admin:*"
const (
	PermOCRSubmit   = "ocr:submit"
	PermNoteReadOwn = "note:read_own"
	PermAdminAll    = "admin:*"
)

var roleToPerms = map[string][]string{
	"user":  {PermOCRSubmit, PermNoteReadOwn},
	"admin": {PermOCRSubmit, PermNoteReadOwn, PermAdminAll},
}

func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		if perms, ok := roleToPerms[r]; ok {
			for _, p := range perms {
				out[p] = struct{}{}
			}
		}
	}
	return out
}

// HasPerm reports whether the roles grant perm. admin:* grants everything.
func HasPerm(roles []string, perm string) bool {
	perms := PermsForRoles(roles)
	if _, ok := perms[PermAdminAll]; ok {
		return true
	}
	_, ok := perms[perm]
	return ok
}
