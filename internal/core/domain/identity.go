package domain

// Identity token kinds. A token has the form "<kind>:<value>" and is
// opaque beyond construction: consumers compare tokens by equality only.
const (
	IdentityKindAccountID = "account_id"
	IdentityKindGroupID   = "group_id"
	IdentityKindRoleKey   = "role_key"
	IdentityKindName      = "name"
)

// PrefixIdentity builds an identity token from a kind and a value.
func PrefixIdentity(kind, value string) string {
	return kind + ":" + value
}
