package startup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

func TestReportUnfinished(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	j := db.Journal{Conn: conn}

	done := db.NewJournalEntry("fan", "run", 0, 1)
	require.NoError(t, j.Insert(ctx, done))
	require.NoError(t, j.Update(ctx, done.ID, model.JournalPersisted, 3, ""))

	stuck := db.NewJournalEntry("side-curtain", "timed_open", 10, 25)
	require.NoError(t, j.Insert(ctx, stuck))
	require.NoError(t, j.Update(ctx, stuck.ID, model.JournalSent, 4, ""))

	entries, err := ReportUnfinished(ctx, j)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stuck.ID, entries[0].ID)
}

func TestServiceUnit(t *testing.T) {
	unit := Service{
		User:             "greenhouse",
		WorkingDirectory: "/opt/greenhouse",
		Binary:           "/usr/local/bin/greenhouse-controller",
		ConfigFile:       "/etc/greenhouse/config.json",
	}.Unit()

	assert.Contains(t, unit, "User=greenhouse\n")
	assert.Contains(t, unit, "WorkingDirectory=/opt/greenhouse\n")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/greenhouse-controller --config-file /etc/greenhouse/config.json\n")
	assert.Contains(t, unit, "WantedBy=multi-user.target")
}

func TestInstallService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greenhouse.service")

	assert.Error(t, InstallService(path, Service{}))

	require.NoError(t, InstallService(path, Service{Binary: "/usr/local/bin/greenhouse-controller"}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ExecStart=/usr/local/bin/greenhouse-controller\n")
	assert.NotContains(t, string(raw), "User=")
}
