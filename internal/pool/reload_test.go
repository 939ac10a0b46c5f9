package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyrelay/polyrelay/internal/models"
	"github.com/polyrelay/polyrelay/internal/quota"
)

func TestReload_UnchangedConfigPreservesState(t *testing.T) {
	configs := []models.AccountConfig{testConfig("a"), testConfig("b")}
	p, err := New(configs, testOptions(nil))
	require.NoError(t, err)

	rec, ok := p.Account("a")
	require.True(t, ok)
	rec.ReportSuccess()
	rec.ReportSuccess()
	rec.ReportOutcome(errors.New("boom"), quota.ClassImages)
	_, err = p.Get("")
	require.NoError(t, err)

	before := rec.snapshot()

	fresh, err := p.Reload(configs)
	require.NoError(t, err)

	after, ok := fresh.Account("a")
	require.True(t, ok)
	assert.Equal(t, before, after.snapshot())
	assert.Equal(t, int64(2), after.SuccessCount())
	assert.Equal(t, int64(1), after.FailureCount())
	assert.Contains(t, after.Tracker().Snapshot(), quota.ClassImages)
}

func TestReload_RemovedAccountDropped(t *testing.T) {
	p, err := New([]models.AccountConfig{testConfig("a"), testConfig("b")}, testOptions(nil))
	require.NoError(t, err)

	fresh, err := p.Reload([]models.AccountConfig{testConfig("a")})
	require.NoError(t, err)

	assert.Equal(t, 1, fresh.Len())
	_, ok := fresh.Account("b")
	assert.False(t, ok)
}

func TestReload_AddedAccountStartsFresh(t *testing.T) {
	p, err := New([]models.AccountConfig{testConfig("a")}, testOptions(nil))
	require.NoError(t, err)

	rec, ok := p.Account("a")
	require.True(t, ok)
	rec.ReportOutcome(errors.New("boom"))

	fresh, err := p.Reload([]models.AccountConfig{testConfig("a"), testConfig("b")})
	require.NoError(t, err)

	// The survivor keeps its failure state, the newcomer has none
	a, _ := fresh.Account("a")
	assert.Equal(t, int64(1), a.FailureCount())
	assert.Contains(t, a.Tracker().Snapshot(), quota.ClassText)

	b, ok := fresh.Account("b")
	require.True(t, ok)
	assert.Zero(t, b.FailureCount())
	assert.Empty(t, b.Tracker().Snapshot())
}

func TestReload_ClearsSessions(t *testing.T) {
	p, err := New([]models.AccountConfig{testConfig("a")}, testOptions(nil))
	require.NoError(t, err)

	p.BindSession("conv1", "a", "sess-1")
	require.Equal(t, 1, p.SessionCount())

	_, err = p.Reload([]models.AccountConfig{testConfig("a")})
	require.NoError(t, err)
	assert.Zero(t, p.SessionCount())
}

func TestReload_InvalidConfigFails(t *testing.T) {
	p, err := New([]models.AccountConfig{testConfig("a")}, testOptions(nil))
	require.NoError(t, err)

	bad := testConfig("b")
	bad.SecureCSes = ""
	_, err = p.Reload([]models.AccountConfig{testConfig("a"), bad})
	assert.Error(t, err)
}

func TestReload_ExpiredAccountLoadedButUnavailable(t *testing.T) {
	p, err := New([]models.AccountConfig{testConfig("a")}, testOptions(nil))
	require.NoError(t, err)

	expired := testConfig("b")
	expired.ExpiresAt = time.Now().In(models.ExpiryZone).Add(-time.Hour).Format("2006-01-02 15:04:05")
	fresh, err := p.Reload([]models.AccountConfig{testConfig("a"), expired})
	require.NoError(t, err)

	rec, ok := fresh.Account("b")
	require.True(t, ok)
	assert.False(t, rec.Available())
}

func TestReload_SurvivorExpiredSinceSnapshotStaysUnavailable(t *testing.T) {
	p, err := New([]models.AccountConfig{testConfig("a")}, testOptions(nil))
	require.NoError(t, err)

	rec, ok := p.Account("a")
	require.True(t, ok)
	rec.ReportSuccess()
	require.True(t, rec.Available())

	// Same id, but the updated config carries an expiry in the past
	expired := testConfig("a")
	expired.ExpiresAt = time.Now().In(models.ExpiryZone).Add(-time.Hour).Format("2006-01-02 15:04:05")
	fresh, err := p.Reload([]models.AccountConfig{expired})
	require.NoError(t, err)

	after, ok := fresh.Account("a")
	require.True(t, ok)
	assert.False(t, after.Available())
	// Counters still carry over
	assert.Equal(t, int64(1), after.SuccessCount())
}
