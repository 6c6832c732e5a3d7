package db

import (
	"context"
	"fmt"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

func SetOperationModeCLI(dbPath string, mode model.OperationMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid operation mode %d", mode)
	}
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	return WritePoints(context.Background(), conn, model.Point{
		Measurement: model.MeasurementOperationMode,
		Field:       model.FieldOperationMode,
		Value:       float64(mode),
		Time:        time.Now(),
	})
}

func JournalCLI(dbPath string, limit int, unfinishedOnly bool) ([]model.JournalEntry, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if unfinishedOnly {
		return ListUnfinishedJournal(context.Background(), conn)
	}
	return ListJournal(context.Background(), conn, limit)
}
