package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkflowOverrides(t *testing.T) {
	got, err := ParseWorkflowOverrides(" grade_review = dept_head, dean ; withdrawal=advisor ")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"GRADE_REVIEW": {"DEPT_HEAD", "DEAN"},
		"WITHDRAWAL":   {"ADVISOR"},
	}, got)

	got, err = ParseWorkflowOverrides("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseWorkflowOverrides("GRADE_REVIEW")
	assert.Error(t, err)
	_, err = ParseWorkflowOverrides("GRADE_REVIEW= , ")
	assert.Error(t, err)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("ENABLE_CACHE", "false")
	t.Setenv("REQUEST_EXPORT_MAX_ROWS", "250")
	t.Setenv("REQUEST_STATS_CACHE_TTL", "90s")
	t.Setenv("REQUEST_WORKFLOW_OVERRIDES", "GRADE_REVIEW=DEPT_HEAD")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 250, cfg.Requests.ExportMaxRows)
	assert.Equal(t, 90*time.Second, cfg.Requests.StatsCacheTTL)
	assert.Equal(t, []string{"DEPT_HEAD"}, cfg.Requests.WorkflowOverrides["GRADE_REVIEW"])
	assert.Equal(t, 5, cfg.Database.ConnectRetries)
}

func TestLoadRejectsBadOverrides(t *testing.T) {
	t.Setenv("REQUEST_WORKFLOW_OVERRIDES", "broken")
	_, err := Load()
	assert.Error(t, err)
}
