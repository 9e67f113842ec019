package profile

import (
	"errors"
	"strings"

	"fallguard/internal/config"
)

var ErrUnknownElder = errors.New("unknown elder")

type Elder struct {
	ID               string
	Name             string
	EmergencyContact string
	Devices          []string
}

// Directory answers the profile lookups the fall pipeline needs: who owns a
// device, what to call them and whom to dial.
type Directory struct {
	StrictDevices bool
	self          string
	elders        map[string]Elder
	devices       map[string]string
}

func New(cfg *config.Config) *Directory {
	d := &Directory{
		StrictDevices: cfg.Elder.StrictDevices,
		self:          cfg.Elder.ID,
		elders:        make(map[string]Elder),
		devices:       make(map[string]string),
	}
	d.add(cfg.Elder)
	for _, e := range cfg.Linked {
		d.add(e)
	}
	return d
}

func (d *Directory) add(e config.ElderConfig) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return
	}
	elder := Elder{
		ID:               id,
		Name:             strings.TrimSpace(e.Name),
		EmergencyContact: normalizePhone(e.EmergencyContact),
	}
	for _, dev := range e.Devices {
		dev = normalizeDevice(dev)
		if dev == "" {
			continue
		}
		elder.Devices = append(elder.Devices, dev)
		d.devices[dev] = id
	}
	d.elders[id] = elder
}

// Self returns the elder this process monitors.
func (d *Directory) Self() string {
	if d == nil {
		return ""
	}
	return d.self
}

func (d *Directory) Lookup(elderID string) (Elder, error) {
	if d == nil {
		return Elder{}, ErrUnknownElder
	}
	e, ok := d.elders[elderID]
	if !ok {
		return Elder{}, ErrUnknownElder
	}
	return e, nil
}

// DisplayName is empty when the elder has no configured name.
func (d *Directory) DisplayName(elderID string) string {
	e, err := d.Lookup(elderID)
	if err != nil {
		return ""
	}
	return e.Name
}

func (d *Directory) EmergencyContact(elderID string) (string, error) {
	e, err := d.Lookup(elderID)
	if err != nil {
		return "", err
	}
	if e.EmergencyContact == "" {
		return "", errors.New("no emergency contact for " + elderID)
	}
	return e.EmergencyContact, nil
}

// ElderForDevice maps a device to its owner. Unmapped devices belong to the
// local elder.
func (d *Directory) ElderForDevice(deviceID string) string {
	if d == nil {
		return ""
	}
	if id, ok := d.devices[normalizeDevice(deviceID)]; ok {
		return id
	}
	return d.self
}

// Linked reports whether samples from deviceID should be evaluated.
func (d *Directory) Linked(deviceID string) bool {
	if d == nil || !d.StrictDevices {
		return true
	}
	_, ok := d.devices[normalizeDevice(deviceID)]
	return ok
}

func normalizeDevice(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func normalizePhone(number string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(number))
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
