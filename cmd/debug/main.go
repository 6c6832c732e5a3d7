package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/commander"
	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/transport"
	"github.com/thatsimonsguy/greenhouse-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, configPath, command, deviceName, action, unitPath, binary string
	var mode, seconds, limit int
	var unfinished bool
	flag.StringVar(&dbPath, "db", "data/greenhouse.db", "Path to the SQLite database file")
	flag.StringVar(&configPath, "config", "config.json", "Path to the controller config file (status, send)")
	flag.StringVar(&command, "cmd", "", "Command to run: status, send, set-mode, journal, install-service")
	flag.StringVar(&deviceName, "device", "", "Device name for status and send")
	flag.StringVar(&action, "action", "", "Command for send: stop, run, open, close")
	flag.IntVar(&seconds, "seconds", 0, "Run time in seconds for open and close")
	flag.IntVar(&mode, "mode", -1, "Operation mode for set-mode: 0 (auto), 1 (manual)")
	flag.IntVar(&limit, "limit", 20, "Number of journal entries to show")
	flag.BoolVar(&unfinished, "unfinished", false, "Only show journal entries that never persisted")
	flag.StringVar(&unitPath, "unit", "/etc/systemd/system/greenhouse-controller.service", "Where install-service writes the unit")
	flag.StringVar(&binary, "binary", "/usr/local/bin/greenhouse-controller", "Controller binary for install-service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of greenhouse-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	var err error
	switch command {
	case "status":
		err = status(configPath, deviceName)
	case "send":
		if deviceName == "" || action == "" {
			fmt.Println("Error: -device and -action are required")
			os.Exit(1)
		}
		err = send(configPath, deviceName, action, int32(seconds))
	case "set-mode":
		err = db.SetOperationModeCLI(dbPath, model.OperationMode(mode))
	case "journal":
		err = journal(dbPath, limit, unfinished)
	case "install-service":
		err = startup.InstallService(unitPath, startup.Service{Binary: binary, ConfigFile: configPath})
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func connect(configPath string) (*commander.Commander, config.Config, func(), error) {
	cfg := config.LoadFile(configPath)
	tr, err := transport.Open(cfg.TransportOptions())
	if err != nil {
		return nil, cfg, nil, err
	}
	cmdr := commander.New(tr, protocol.NewSequencer(0), commander.Config{
		StatusBase:  cfg.Protocol.StatusBase,
		CommandBase: cfg.Protocol.CommandBase,
		Settle:      cfg.Protocol.Settle,
		CallTimeout: cfg.Modbus.Timeout,
	})
	return cmdr, cfg, func() { tr.Close() }, nil
}

func status(configPath, deviceName string) error {
	cmdr, cfg, closeFn, err := connect(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	reg := cfg.Registry()
	devices := reg.All()
	if deviceName != "" {
		d, err := reg.Lookup(deviceName)
		if err != nil {
			return err
		}
		devices = []device.Device{d}
	}

	ctx := context.Background()
	for _, d := range devices {
		st, err := cmdr.ReadStatus(ctx, d)
		if err != nil {
			fmt.Printf("%-16s error: %v\n", d.Name, err)
			continue
		}
		fmt.Printf("%-16s opid=%-5d state=%-8s raw=%-5d remaining=%ds\n", d.Name, st.OPID, st.State, st.RawState, st.Remaining)
	}
	return nil
}

func send(configPath, deviceName, action string, seconds int32) error {
	cmdr, cfg, closeFn, err := connect(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	d, err := cfg.Registry().Lookup(deviceName)
	if err != nil {
		return err
	}
	cmd, err := protocol.ParseCommand(strings.ToLower(action))
	if err != nil {
		return err
	}

	var req protocol.Request
	switch cmd {
	case protocol.CmdTimedOpen:
		req = protocol.TimedOpen(seconds)
	case protocol.CmdTimedClose:
		req = protocol.TimedClose(seconds)
	case protocol.CmdRun:
		req = protocol.Run()
	default:
		req = protocol.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Adopt the node's current OPID so the new command gets a fresh one.
	if _, err := cmdr.ReadStatus(ctx, d); err != nil {
		return err
	}
	sent, err := cmdr.Send(ctx, d, req)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: opid=%d payload=%v acknowledged=%t state=%s\n",
		d.Name, req, sent.OPID, sent.Payload, sent.Acknowledged, sent.Status.State)
	return nil
}

func journal(dbPath string, limit int, unfinished bool) error {
	entries, err := db.JournalCLI(dbPath, limit, unfinished)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-16s %-12s opid=%-5d target=%-5v %-9s %s\n",
			e.CreatedAt.Format(time.RFC3339), e.Device, e.Command, e.OPID, e.Target, e.Status, e.Detail)
	}
	return nil
}
