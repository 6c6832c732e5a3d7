package startup

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

type UnfinishedLister interface {
	Unfinished(ctx context.Context) ([]model.JournalEntry, error)
}

// ReportUnfinished warns about commands from a previous run that never reached "persisted".
// Their devices may have moved without the store knowing.
func ReportUnfinished(ctx context.Context, j UnfinishedLister) ([]model.JournalEntry, error) {
	entries, err := j.Unfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished commands: %w", err)
	}
	for _, e := range entries {
		log.Warn().
			Str("journal_id", e.ID).
			Str("device", e.Device).
			Str("command", e.Command).
			Str("status", string(e.Status)).
			Uint16("opid", e.OPID).
			Time("created_at", e.CreatedAt).
			Msg("Command from a previous run did not finish; device position may be stale")
	}
	if len(entries) > 0 {
		log.Warn().Int("count", len(entries)).Msg("Consider POST /reset to re-establish device positions")
	}
	return entries, nil
}

type Service struct {
	User             string
	WorkingDirectory string
	Binary           string
	ConfigFile       string
}

func (s Service) Unit() string {
	execStart := s.Binary
	if s.ConfigFile != "" {
		execStart += " --config-file " + s.ConfigFile
	}

	var b strings.Builder
	b.WriteString(`[Unit]
Description=Greenhouse actuator controller
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
`)
	if s.User != "" {
		fmt.Fprintf(&b, "User=%s\n", s.User)
	}
	if s.WorkingDirectory != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", s.WorkingDirectory)
	}
	fmt.Fprintf(&b, `ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, execStart)
	return b.String()
}

// InstallService writes the systemd unit for the controller to path.
func InstallService(path string, s Service) error {
	if s.Binary == "" {
		return fmt.Errorf("service binary path is required")
	}
	if err := os.WriteFile(path, []byte(s.Unit()), 0644); err != nil {
		return fmt.Errorf("write service unit %s: %w", path, err)
	}
	log.Info().Str("path", path).Str("binary", s.Binary).Msg("Installed controller service unit")
	return nil
}
