package confluence

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/confluence-harvest/internal/core/ports/driven"
	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

// newTestConfig returns a minimal valid server configuration pointed at
// baseURL, with a single retry and no throttling delays worth noticing.
func newTestConfig(baseURL string) *Config {
	return &Config{
		Deployment: DeploymentServer,
		BaseURL:    baseURL,
		Username:   "admin",
		Password:   "secret",
		RetryCount: 1,
	}
}

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	c := NewClient(cfg, logger.NewNoopLogger())
	c.retryInterval = 0.01
	c.limiter = rate.NewLimiter(rate.Inf, 0)
	t.Cleanup(c.Close)
	return c
}

func newTestSource(t *testing.T, baseURL string, materializer driven.Materializer, mutate func(*Config)) *DataSource {
	t.Helper()
	cfg := newTestConfig(baseURL)
	if mutate != nil {
		mutate(cfg)
	}

	src, err := NewDataSource(cfg, materializer, logger.NewNoopLogger())
	require.NoError(t, err)
	src.client.retryInterval = 0.01
	src.client.limiter = rate.NewLimiter(rate.Inf, 0)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func knownUser(accountID string) Subject {
	return Subject{Type: subjectTypeKnown, AccountType: accountTypeAtlassian, AccountID: accountID}
}

func groupSubject(groupID string) Subject {
	return Subject{Type: subjectTypeGroup, ID: groupID}
}

func readPermission(targetType string, subjects Subjects) Permission {
	return Permission{
		Operation: PermissionOperation{Operation: operationRead, TargetType: targetType},
		Subjects:  subjects,
	}
}
