package device

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownDevice = errors.New("unknown device")

type Class int

const (
	Binary Class = iota
	Timed
)

func (c Class) String() string {
	if c == Timed {
		return "timed"
	}
	return "binary"
}

// ID identifies one physical actuator. The set is fixed at compile time.
type ID int

const (
	RoofWindow1 ID = iota
	RoofWindow2
	ShadeCurtain1
	ShadeCurtain2
	ThermalCurtain
	SideCurtain
	Fan
	Blower

	count
)

type Device struct {
	ID              ID
	Name            string
	Class           Class
	Register        int
	TraverseSeconds int
	Field           string
	Aliases         []string
}

func (d Device) Timed() bool { return d.Class == Timed }

// StatusAddress is where the node exposes this device's 4-word status block.
func (d Device) StatusAddress(base int) uint16 { return uint16(base + d.Register) }

// CommandAddress is where commands for this device are written.
func (d Device) CommandAddress(base int) uint16 { return uint16(base + d.Register) }

var defaults = [count]Device{
	RoofWindow1:    {Name: "roof-window-1", Class: Timed, Register: 36, TraverseSeconds: 480, Field: "window_1", Aliases: []string{"천창1"}},
	RoofWindow2:    {Name: "roof-window-2", Class: Timed, Register: 40, TraverseSeconds: 480, Field: "window_2", Aliases: []string{"천창2"}},
	ShadeCurtain1:  {Name: "shade-curtain-1", Class: Timed, Register: 48, TraverseSeconds: 920, Field: "curtain_1", Aliases: []string{"차광1"}},
	ShadeCurtain2:  {Name: "shade-curtain-2", Class: Timed, Register: 54, TraverseSeconds: 940, Field: "curtain_2", Aliases: []string{"차광2"}},
	ThermalCurtain: {Name: "thermal-curtain", Class: Timed, Register: 56, TraverseSeconds: 930, Field: "curtain_3", Aliases: []string{"보온1"}},
	SideCurtain:    {Name: "side-curtain", Class: Timed, Register: 60, TraverseSeconds: 40, Field: "side_curtain", Aliases: []string{"측커텐"}},
	Fan:            {Name: "fan", Class: Binary, Register: 4, Field: "fan", Aliases: []string{"유동팬"}},
	Blower:         {Name: "blower", Class: Binary, Register: 28, Field: "blower", Aliases: []string{"송풍기", "heater"}},
}

func (id ID) String() string {
	if id < 0 || id >= count {
		return fmt.Sprintf("device(%d)", int(id))
	}
	return defaults[id].Name
}

// Override adjusts the static attributes of one device.
type Override struct {
	Register        *int
	TraverseSeconds *int
}

// Registry is the lookup table resolved at startup.
type Registry struct {
	devices [count]Device
	byName  map[string]ID
}

func NewRegistry(overrides map[ID]Override) *Registry {
	r := &Registry{devices: defaults, byName: make(map[string]ID)}
	for id := ID(0); id < count; id++ {
		d := r.devices[id]
		d.ID = id
		d.Aliases = append([]string(nil), d.Aliases...)
		if o, ok := overrides[id]; ok {
			if o.Register != nil {
				d.Register = *o.Register
			}
			if o.TraverseSeconds != nil {
				d.TraverseSeconds = *o.TraverseSeconds
			}
		}
		r.devices[id] = d

		r.byName[d.Name] = id
		r.byName[d.Field] = id
		for _, a := range d.Aliases {
			r.byName[a] = id
		}
	}
	return r
}

func (r *Registry) Get(id ID) Device {
	return r.devices[id]
}

// Lookup resolves a device by canonical name, store field or legacy alias.
func (r *Registry) Lookup(name string) (Device, error) {
	id, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		id, ok = r.byName[strings.ToLower(strings.TrimSpace(name))]
	}
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return r.devices[id], nil
}

func (r *Registry) All() []Device {
	out := make([]Device, 0, count)
	for id := ID(0); id < count; id++ {
		out = append(out, r.devices[id])
	}
	return out
}

// MaxRegister is the highest register offset any device uses.
func (r *Registry) MaxRegister() int {
	highest := 0
	for _, d := range r.devices {
		if d.Register > highest {
			highest = d.Register
		}
	}
	return highest
}

func (r *Registry) OfClass(c Class) []Device {
	var out []Device
	for _, d := range r.All() {
		if d.Class == c {
			out = append(out, d)
		}
	}
	return out
}

// ParseID resolves a canonical device name without a registry.
func ParseID(name string) (ID, error) {
	for id := ID(0); id < count; id++ {
		if defaults[id].Name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
}
