package timelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow(t *testing.T) Window {
	t.Helper()
	w, err := NewWindow(10*time.Second, 10*time.Second, 2*time.Minute, 10*time.Minute, 20*time.Minute)
	require.NoError(t, err)
	return w
}

func TestNewWindowRejectsDisorder(t *testing.T) {
	cases := []struct {
		name                                          string
		finality, exclusive, public, cancel, pubCancel time.Duration
	}{
		{"cancellation before withdrawal", 10 * time.Second, 10 * time.Second, 2 * time.Minute, time.Minute, 20 * time.Minute},
		{"public cancellation before cancellation", 10 * time.Second, 10 * time.Second, 2 * time.Minute, 10 * time.Minute, 5 * time.Minute},
		{"exclusive before finality", 10 * time.Second, 5 * time.Second, 2 * time.Minute, 10 * time.Minute, 20 * time.Minute},
		{"negative finality", -time.Second, time.Second, time.Minute, 10 * time.Minute, 20 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWindow(tc.finality, tc.exclusive, tc.public, tc.cancel, tc.pubCancel)
			assert.Error(t, err)
		})
	}
}

func TestStageProgression(t *testing.T) {
	w := testWindow(t)

	assert.Equal(t, StageLocked, w.Stage(0))
	assert.Equal(t, StageLocked, w.Stage(9*time.Second))
	assert.Equal(t, StageExclusiveWithdrawal, w.Stage(11*time.Second))
	assert.Equal(t, StagePublicWithdrawal, w.Stage(3*time.Minute))
	assert.Equal(t, StageCancellable, w.Stage(11*time.Minute))
	assert.Equal(t, StagePublicCancellable, w.Stage(21*time.Minute))
}

func TestIsPermittedWithdraw(t *testing.T) {
	w := testWindow(t)

	// Nothing before the finality lock passes.
	assert.False(t, w.IsPermitted(ActionWithdraw, RoleCounterparty, 5*time.Second))
	assert.False(t, w.IsPermitted(ActionCancel, RoleDepositor, 5*time.Second))

	// Exclusive window: counterparty only.
	assert.True(t, w.IsPermitted(ActionWithdraw, RoleCounterparty, 30*time.Second))
	assert.False(t, w.IsPermitted(ActionWithdraw, RolePublic, 30*time.Second))
	assert.False(t, w.IsPermitted(ActionWithdraw, RoleDepositor, 30*time.Second))

	// Public withdrawal: any holder of the secret.
	assert.True(t, w.IsPermitted(ActionWithdraw, RolePublic, 3*time.Minute))

	// Withdrawals end once cancellation opens.
	assert.False(t, w.IsPermitted(ActionWithdraw, RoleCounterparty, 11*time.Minute))
}

func TestIsPermittedCancel(t *testing.T) {
	w := testWindow(t)

	assert.False(t, w.IsPermitted(ActionCancel, RoleDepositor, 3*time.Minute))
	assert.True(t, w.IsPermitted(ActionCancel, RoleDepositor, 11*time.Minute))
	assert.False(t, w.IsPermitted(ActionCancel, RolePublic, 11*time.Minute))
	assert.True(t, w.IsPermitted(ActionCancel, RolePublic, 21*time.Minute))
}

func TestDeny(t *testing.T) {
	w := testWindow(t)

	stage, wait := w.Deny(ActionWithdraw, 4*time.Second)
	assert.Equal(t, StageExclusiveWithdrawal, stage)
	assert.Equal(t, 6*time.Second, wait)

	stage, wait = w.Deny(ActionCancel, 11*time.Minute)
	assert.Equal(t, StageCancellable, stage)
	assert.Equal(t, time.Duration(0), wait)
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timelocks.yaml")
	doc := `
profiles:
  fast:
    finality_lock: 10s
    exclusive_withdrawal: 10s
    public_withdrawal: 2m
    cancellation: 10m
    public_cancellation: 20m
  slow:
    finality_lock: 5m
    exclusive_withdrawal: 5m
    public_withdrawal: 1h
    cancellation: 12h
    public_cancellation: 24h
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	windows, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 10*time.Second, windows["fast"].FinalityLock)
	assert.Equal(t, 12*time.Hour, windows["slow"].Cancellation)
}

func TestLoadProfilesRejectsInvalidWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timelocks.yaml")
	doc := `
profiles:
  broken:
    finality_lock: 10s
    exclusive_withdrawal: 10s
    public_withdrawal: 2m
    cancellation: 1m
    public_cancellation: 20m
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	_, err := LoadProfiles(path)
	assert.Error(t, err)
}
