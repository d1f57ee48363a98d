// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package devices maps node addresses to device tags and links.
//
// The registry is a TOML file with one [[device]] table per node:
//
//	[[device]]
//	address = "20:15:04:10:26:60"
//	name    = "hive-north"
//	port    = "/dev/rfcomm1"
//
// Exactly one of port, url or tcp selects the transport.
package devices

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/hivegate/internal/link"
)

var (
	ErrInvalid       = errors.New("invalid device registry")
	ErrUnknownDevice = errors.New("unknown device")
)

// Device is one registry entry
type Device struct {
	Address  string `toml:"address"`
	Name     string `toml:"name"`
	Port     string `toml:"port"`
	Baud     int    `toml:"baud"`
	URL      string `toml:"url"`
	Username string `toml:"username"`
	TCP      string `toml:"tcp"`
}

type fileConfig struct {
	Devices []Device `toml:"device"`
}

// Registry is an immutable set of devices keyed by normalized address.
type Registry struct {
	devices []Device
	byAddr  map[string]int
}

// NormalizeAddress returns the lookup key for a node address
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

func Load(path string) (*Registry, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load device registry: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	return New(raw.Devices)
}

// Parse decodes a registry from TOML text
func Parse(data string) (*Registry, error) {
	var raw fileConfig
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parse device registry: %w", err)
	}
	return New(raw.Devices)
}

// New validates devices and builds a registry. Names default to the address.
func New(devices []Device) (*Registry, error) {
	r := &Registry{byAddr: make(map[string]int, len(devices))}
	for i, d := range devices {
		d.Address = NormalizeAddress(d.Address)
		d.Name = strings.TrimSpace(d.Name)
		if d.Address == "" {
			return nil, fmt.Errorf("%w: device[%d] missing address", ErrInvalid, i)
		}
		if _, dup := r.byAddr[d.Address]; dup {
			return nil, fmt.Errorf("%w: device[%d] duplicate address %s", ErrInvalid, i, d.Address)
		}
		if n := countSet(d.Port, d.URL, d.TCP); n != 1 {
			return nil, fmt.Errorf("%w: device %s must set exactly one of port, url, tcp (has %d)", ErrInvalid, d.Address, n)
		}
		if d.Baud < 0 {
			return nil, fmt.Errorf("%w: device %s baud must be positive", ErrInvalid, d.Address)
		}
		if d.Name == "" {
			d.Name = d.Address
		}
		r.byAddr[d.Address] = len(r.devices)
		r.devices = append(r.devices, d)
	}
	return r, nil
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// Lookup finds a device by address, ignoring case.
func (r *Registry) Lookup(addr string) (Device, error) {
	if r != nil {
		if i, ok := r.byAddr[NormalizeAddress(addr)]; ok {
			return r.devices[i], nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
}

// All returns the devices in file order
func (r *Registry) All() []Device {
	if r == nil {
		return nil
	}
	return append([]Device(nil), r.devices...)
}

// Addresses returns every registered address, sorted.
func (r *Registry) Addresses() []string {
	out := make([]string, 0, len(r.All()))
	for _, d := range r.All() {
		out = append(out, d.Address)
	}
	sort.Strings(out)
	return out
}

// Tag returns the device tag stored with a node's readings. Unregistered
// nodes are tagged with their address.
func (r *Registry) Tag(peerID string) string {
	if d, err := r.Lookup(peerID); err == nil {
		return d.Name
	}
	return peerID
}

// Target builds the link target for d. defaultBaud applies when the entry
// does not set one.
func (d Device) Target(defaultBaud int) link.Target {
	baud := d.Baud
	if baud == 0 {
		baud = defaultBaud
	}
	return link.Target{
		Port:     strings.TrimSpace(d.Port),
		Baud:     baud,
		URL:      strings.TrimSpace(d.URL),
		Username: d.Username,
		TCP:      strings.TrimSpace(d.TCP),
	}
}
