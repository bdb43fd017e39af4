// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package blelink connects to BMS devices over Bluetooth LE and exposes
// each connection as an acquisition transport.
package blelink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/cellwatch/pkg/profile"
)

// ErrNotFound is returned when a scan ends without seeing the device
var ErrNotFound = errors.New("device not found")

// Adapter wraps the host Bluetooth adapter
type Adapter struct {
	adapter *bluetooth.Adapter
	log     logrus.FieldLogger

	mu    sync.Mutex
	links map[string]*Link
}

// NewAdapter enables the default host adapter. A nil logger discards
// diagnostics.
func NewAdapter(log logrus.FieldLogger) (*Adapter, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	a := &Adapter{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		links:   map[string]*Link{},
	}
	if err := a.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if !connected {
			a.disconnected(device.Address.String())
		}
	})
	return a, nil
}

func (a *Adapter) disconnected(address string) {
	a.mu.Lock()
	l, ok := a.links[normalize(address)]
	delete(a.links, normalize(address))
	a.mu.Unlock()
	if ok && l.shutdown() {
		a.log.WithField("address", address).Warn("device disconnected")
	}
}

// Scan reports every advertisement until ctx is done. Only the service
// ids in services are checked for presence.
func (a *Adapter) Scan(ctx context.Context, services []uint16, fn func(profile.Advertisement)) error {
	return a.scan(ctx, func(r bluetooth.ScanResult) bool {
		fn(advertisement(r.Address.String(), r.RSSI, r.AdvertisementPayload, services))
		return false
	})
}

// scan runs until visit returns true or ctx is done
func (a *Adapter) scan(ctx context.Context, visit func(bluetooth.ScanResult) bool) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-stop:
		}
	}()

	var once sync.Once
	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, r bluetooth.ScanResult) {
		if visit(r) {
			once.Do(func() { _ = adapter.StopScan() })
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// Find scans until the device with the given address advertises
func (a *Adapter) Find(ctx context.Context, address string) (bluetooth.ScanResult, error) {
	var found bluetooth.ScanResult
	ok := false
	err := a.scan(ctx, func(r bluetooth.ScanResult) bool {
		if normalize(r.Address.String()) != normalize(address) {
			return false
		}
		found, ok = r, true
		return true
	})
	if err != nil {
		return found, err
	}
	if !ok {
		return found, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return found, nil
}

// Connect finds the device, subscribes to the profile's notify
// characteristic and returns the connection
func (a *Adapter) Connect(ctx context.Context, address string, p profile.Profile) (*Link, error) {
	r, err := a.Find(ctx, address)
	if err != nil {
		return nil, err
	}
	device, err := a.adapter.Connect(r.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	l := newLink(address, a.log.WithField("profile", p.Name()))
	l.device = &device
	if err := a.subscribe(l, p); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	a.mu.Lock()
	a.links[normalize(address)] = l
	a.mu.Unlock()
	l.log.Info("connected")
	return l, nil
}

func (a *Adapter) subscribe(l *Link, p profile.Profile) error {
	ch := p.Channels()
	services, err := l.device.DiscoverServices([]bluetooth.UUID{bluetooth.New16BitUUID(ch.Service)})
	if err != nil {
		return fmt.Errorf("discover service %04X: %w", ch.Service, err)
	}
	if len(services) == 0 {
		return fmt.Errorf("service %04X not found", ch.Service)
	}

	ids := Characteristics(p)
	uuids := make([]bluetooth.UUID, len(ids))
	for i, id := range ids {
		uuids[i] = bluetooth.New16BitUUID(id)
	}
	chars, err := services[0].DiscoverCharacteristics(uuids)
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}

	subscribed := false
	for i := range chars {
		c := &chars[i]
		for _, id := range ids {
			if c.UUID() != bluetooth.New16BitUUID(id) {
				continue
			}
			l.writers[id] = c
			if id == ch.Notify {
				if err := c.EnableNotifications(l.notify); err != nil {
					return fmt.Errorf("enable notifications %04X: %w", id, err)
				}
				subscribed = true
			}
		}
	}
	if !subscribed {
		return fmt.Errorf("%w: notify %04X", ErrNoCharacteristic, ch.Notify)
	}
	return nil
}

// Close disconnects every open link
func (a *Adapter) Close() error {
	a.mu.Lock()
	links := make([]*Link, 0, len(a.links))
	for _, l := range a.links {
		links = append(links, l)
	}
	a.links = map[string]*Link{}
	a.mu.Unlock()

	var errs []error
	for _, l := range links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Characteristics lists the 16-bit characteristic ids a profile uses:
// notify first, then every write target, without repeats
func Characteristics(p profile.Profile) []uint16 {
	ch := p.Channels()
	seen := map[uint16]bool{}
	var ids []uint16
	add := func(id uint16) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(ch.Notify)
	add(ch.Write)
	for _, c := range append(append([]profile.Command{}, p.Handshake()...), p.Requests()...) {
		add(c.Char)
	}
	return ids
}

// payload is the part of an advertisement the matcher needs
type payload interface {
	LocalName() string
	HasServiceUUID(bluetooth.UUID) bool
	ManufacturerData() []bluetooth.ManufacturerDataElement
}

// advertisement converts a scan result for profile resolution
func advertisement(address string, rssi int16, p payload, services []uint16) profile.Advertisement {
	adv := profile.Advertisement{
		Address:   address,
		LocalName: p.LocalName(),
		RSSI:      rssi,
	}
	for _, id := range services {
		if p.HasServiceUUID(bluetooth.New16BitUUID(id)) {
			adv.Services = append(adv.Services, id)
		}
	}
	for _, m := range p.ManufacturerData() {
		adv.Manufacturers = append(adv.Manufacturers, m.CompanyID)
	}
	sort.Slice(adv.Services, func(i, j int) bool { return adv.Services[i] < adv.Services[j] })
	return adv
}

func normalize(address string) string {
	return strings.ToUpper(address)
}
