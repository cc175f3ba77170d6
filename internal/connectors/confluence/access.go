package confluence

import (
	"sort"
	"strings"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
)

const (
	subjectTypeKnown     = "known"
	subjectTypeGroup     = "group"
	accountTypeAtlassian = "atlassian"
	operationRead        = "read"
)

func prefixAccountID(accountID string) string {
	return domain.PrefixIdentity(domain.IdentityKindAccountID, accountID)
}

func prefixGroupID(groupID string) string {
	return domain.PrefixIdentity(domain.IdentityKindGroupID, groupID)
}

func prefixRoleKey(roleKey string) string {
	return domain.PrefixIdentity(domain.IdentityKindRoleKey, roleKey)
}

func prefixAccountName(accountName string) string {
	return domain.PrefixIdentity(domain.IdentityKindName, strings.ReplaceAll(accountName, " ", "-"))
}

// identitySet is a deduplicated set of identity tokens.
type identitySet map[string]struct{}

func (s identitySet) add(token string) {
	s[token] = struct{}{}
}

func (s identitySet) merge(other identitySet) {
	for token := range other {
		s[token] = struct{}{}
	}
}

// sorted returns the tokens as a slice. Order carries no meaning; sorting
// just keeps output deterministic.
func (s identitySet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(s))
	for token := range s {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// extractIdentities collects identity tokens from restriction or
// permission subjects. Only verified Atlassian accounts and groups are
// included; anonymous and unknown entries are skipped. With DLS disabled
// it returns an empty set without inspecting the input.
func (s *DataSource) extractIdentities(subjects Subjects) identitySet {
	identities := identitySet{}
	if !s.dlsEnabled() {
		return identities
	}

	for _, user := range subjects.User.Results {
		if user.Type == subjectTypeKnown && user.AccountType == accountTypeAtlassian {
			identities.add(prefixAccountID(user.AccountID))
		}
	}
	for _, group := range subjects.Group.Results {
		if group.Type == subjectTypeGroup {
			identities.add(prefixGroupID(group.ID))
		}
	}
	return identities
}

// accessControlFromPermissions resolves space-level permission grants for
// a document of the given target type. A permission contributes its
// subjects when its operation targets that type, or when it is a
// space-wide read grant; space-scoped non-read operations contribute
// nothing. With DLS disabled it returns an empty set without inspecting
// the input.
func (s *DataSource) accessControlFromPermissions(permissions []Permission, targetType domain.ItemType) identitySet {
	identities := identitySet{}
	if !s.dlsEnabled() {
		return identities
	}

	for _, permission := range permissions {
		op := permission.Operation
		matchesTarget := op.TargetType == string(targetType)
		spaceWideRead := op.TargetType == string(domain.ItemTypeSpace) && op.Operation == operationRead
		if !matchesTarget && !spaceWideRead {
			continue
		}
		identities.merge(s.extractIdentities(permission.Subjects))
	}
	return identities
}

// resolveAccessControl merges the two permission sources for a content
// document. Explicit content restrictions win outright: the space-level
// fallback applies only when the restriction list yields nothing, because
// Confluence treats a restriction as narrowing default space access, not
// widening it.
func (s *DataSource) resolveAccessControl(restrictions Subjects, permissions []Permission, targetType domain.ItemType) []string {
	identities := s.extractIdentities(restrictions)
	if len(identities) == 0 {
		identities = s.accessControlFromPermissions(permissions, targetType)
	}
	return identities.sorted()
}

// decorateWithAccessControl attaches identity tokens to a document.
// A no-op when DLS is disabled.
func (s *DataSource) decorateWithAccessControl(doc *domain.Document, accessControl []string) {
	if !s.dlsEnabled() || len(accessControl) == 0 {
		return
	}
	merged := identitySet{}
	for _, token := range doc.AccessControl {
		merged.add(token)
	}
	for _, token := range accessControl {
		merged.add(token)
	}
	doc.AccessControl = merged.sorted()
}
