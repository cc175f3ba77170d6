package confluence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// userDetailConcurrency caps the per-user detail fetch fan-out.
const userDetailConcurrency = 10

// UserAccessControlDoc describes one user's identity for an access
// control sync: the identities under which documents become visible to
// that user.
type UserAccessControlDoc struct {
	// ID is the user's account ID.
	ID string

	// AccountID and DisplayName are the user's prefixed identity tokens.
	AccountID   string
	DisplayName string

	// CreatedAt is when this access control document was generated.
	CreatedAt time.Time

	// AccessControl lists the account, group and role identities that
	// grant this user access.
	AccessControl []string
}

// isActiveAtlassianUser filters the bulk user listing down to users that
// can appear in document access control.
func (s *DataSource) isActiveAtlassianUser(user User) bool {
	name := user.DisplayName
	if name == "" {
		name = "user"
	}
	if user.Self == "" {
		s.log.Debug("skipping user without profile URL", zap.String("user", name))
		return false
	}
	if !user.Active {
		s.log.Debug("skipping inactive or deleted user", zap.String("user", name))
		return false
	}
	if user.AccountType != accountTypeAtlassian {
		s.log.Debug("skipping non-atlassian account",
			zap.String("user", name),
			zap.String("account_type", user.AccountType))
		return false
	}
	return true
}

// userAccessControlDoc builds the access control document for one user
// from their expanded groups and application roles.
func (s *DataSource) userAccessControlDoc(user User) *UserAccessControlDoc {
	identities := identitySet{}
	identities.add(prefixAccountID(user.AccountID))
	for _, group := range user.Groups.Items {
		identities.add(prefixGroupID(group.GroupID))
	}
	for _, role := range user.ApplicationRoles.Items {
		identities.add(prefixRoleKey(role.Key))
	}

	return &UserAccessControlDoc{
		ID:            user.AccountID,
		AccountID:     prefixAccountID(user.AccountID),
		DisplayName:   prefixAccountName(user.DisplayName),
		CreatedAt:     time.Now().UTC(),
		AccessControl: identities.sorted(),
	}
}

// GetAccessControl streams access control documents for every active
// Atlassian user on the instance. With DLS disabled it produces nothing.
// User details are fetched concurrently with a bounded fan-out.
func (s *DataSource) GetAccessControl(ctx context.Context) (<-chan *UserAccessControlDoc, <-chan error) {
	docs := make(chan *UserAccessControlDoc)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		if !s.dlsEnabled() {
			s.log.Warn("document level security is not enabled, skipping access control sync")
			return
		}

		s.log.Info("fetching all users")
		var users []User
		if err := s.client.GetJSON(ctx, s.client.usersURL(), &users); err != nil {
			errs <- fmt.Errorf("list users: %w", err)
			return
		}

		var mu sync.Mutex
		var detailed []User

		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(userDetailConcurrency)
		for _, user := range users {
			if !s.isActiveAtlassianUser(user) {
				continue
			}
			detailURL := fmt.Sprintf("%s&%s", user.Self, userQuery)
			group.Go(func() error {
				var full User
				if err := s.client.GetJSON(gctx, detailURL, &full); err != nil {
					return fmt.Errorf("fetch user %s: %w", user.AccountID, err)
				}
				mu.Lock()
				detailed = append(detailed, full)
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			errs <- err
			return
		}

		for _, user := range detailed {
			select {
			case docs <- s.userAccessControlDoc(user):
			case <-ctx.Done():
				return
			}
		}
	}()

	return docs, errs
}
