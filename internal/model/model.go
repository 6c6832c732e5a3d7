package model

import "time"

type OperationMode int

const (
	ModeAuto   OperationMode = 0
	ModeManual OperationMode = 1
)

func (m OperationMode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// Measurements written to the time-series store.
const (
	MeasurementControlStatus = "control_status"
	MeasurementOperationMode = "operation_mode"
	MeasurementSensorData    = "sensor_data"

	FieldOperationMode = "mode"
)

type Point struct {
	Measurement string    `json:"measurement"`
	Field       string    `json:"field"`
	Value       float64   `json:"value"`
	Time        time.Time `json:"time"`
}

// HourlyBucket holds the mean of every field over one hour starting at Start.
type HourlyBucket struct {
	Start  time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

type Direction string

const (
	DirectionOpen  Direction = "OPEN"
	DirectionClose Direction = "CLOSE"
)

// DirectionFor labels a persisted percentage the way the UI expects.
func DirectionFor(percent float64) Direction {
	if percent == 0 {
		return DirectionClose
	}
	return DirectionOpen
}

type StateChange struct {
	Device    string    `json:"device"`
	Percent   *float64  `json:"percent,omitempty"`
	On        *bool     `json:"on,omitempty"`
	OPID      uint16    `json:"opid"`
	Command   string    `json:"command"`
	Seconds   int32     `json:"seconds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type JournalStatus string

const (
	JournalIssued    JournalStatus = "issued"
	JournalSent      JournalStatus = "sent"
	JournalFailed    JournalStatus = "failed"
	JournalPersisted JournalStatus = "persisted"
)

type JournalEntry struct {
	ID        string
	Device    string
	Command   string
	OPID      uint16
	Seconds   int32
	Target    float64
	Status    JournalStatus
	Detail    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
