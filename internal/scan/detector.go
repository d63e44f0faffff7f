// Package scan hosts the barcode capture detector state machine and the
// HTTP-facing scan session registry. The camera itself lives on the client
// device; clients push decoded symbol frames into a session, and the detector
// decides which single symbol fires per armed period.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrPermissionDenied is reported by a capture device whose camera access was
// refused. It drives the detector into its terminal Denied state.
var ErrPermissionDenied = errors.New("camera permission denied")

// ErrDetectorDenied is returned by Configure on a detector already in the
// Denied state; the host must create a fresh detector to scan again.
var ErrDetectorDenied = errors.New("detector permission denied")

// SymbolType identifies a barcode symbology.
type SymbolType string

const (
	TypeQR      SymbolType = "qr"
	TypeEAN8    SymbolType = "ean8"
	TypeEAN13   SymbolType = "ean13"
	TypePDF417  SymbolType = "pdf417"
	TypeCode128 SymbolType = "code128"
	TypeUPCE    SymbolType = "upce"
	TypeAztec   SymbolType = "aztec"
)

var recognizedTypes = map[SymbolType]bool{
	TypeQR:      true,
	TypeEAN8:    true,
	TypeEAN13:   true,
	TypePDF417:  true,
	TypeCode128: true,
	TypeUPCE:    true,
	TypeAztec:   true,
}

// Symbol is one decoded barcode candidate within a frame.
type Symbol struct {
	Type  SymbolType `json:"type"`
	Value string     `json:"value"`
}

// State names the detector lifecycle states.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateArmed        State = "armed"
	StateFired        State = "fired"
	StateDenied       State = "denied"
)

// CaptureDevice models the hardware session behind a detector. Open blocks
// until the device is ready, returns ErrPermissionDenied when camera access
// is refused, or any other error when the device is unavailable.
type CaptureDevice interface {
	Open(ctx context.Context) error
}

// OpenDevice is a CaptureDevice that is always available.
type OpenDevice struct{}

func (OpenDevice) Open(context.Context) error { return nil }

// DeniedDevice is a CaptureDevice whose camera permission was refused.
type DeniedDevice struct{}

func (DeniedDevice) Open(context.Context) error { return ErrPermissionDenied }

// DefaultCooldown is the re-arm interval after a fired detection.
const DefaultCooldown = time.Second

// DetectorConfig wires a detector. OnCode and OnDenied are invoked from a
// single dispatch goroutine, never from the caller's goroutine.
type DetectorConfig struct {
	Device   CaptureDevice
	Cooldown time.Duration
	OnCode   func(code string)
	OnDenied func()
}

// Detector turns a stream of decoded-symbol frames into at most one code
// event per armed period.
type Detector struct {
	device   CaptureDevice
	cooldown time.Duration
	onCode   func(string)
	onDenied func()

	mu           sync.Mutex
	state        State
	alreadyFired bool
	rearm        *time.Timer

	configure singleflight.Group

	dispatch chan func()
	done     chan struct{}
	closeOne sync.Once
}

// NewDetector constructs an unconfigured detector and starts its dispatch
// goroutine.
func NewDetector(cfg DetectorConfig) *Detector {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	device := cfg.Device
	if device == nil {
		device = OpenDevice{}
	}
	d := &Detector{
		device:   device,
		cooldown: cooldown,
		onCode:   cfg.OnCode,
		onDenied: cfg.OnDenied,
		state:    StateUnconfigured,
		dispatch: make(chan func(), 16),
		done:     make(chan struct{}),
	}
	go d.dispatchLoop()
	return d
}

func (d *Detector) dispatchLoop() {
	for {
		select {
		case fn := <-d.dispatch:
			fn()
		case <-d.done:
			return
		}
	}
}

func (d *Detector) emit(fn func()) {
	if fn == nil {
		return
	}
	select {
	case d.dispatch <- fn:
	case <-d.done:
	}
}

// Configure opens the capture device and arms the detector. It is idempotent:
// calling it while already configured is a no-op, and concurrent duplicate
// calls collapse onto the first in-flight attempt and share its result.
// Permission denial is terminal and notifies OnDenied exactly once. Any other
// device failure silently leaves the detector unconfigured; a later
// Configure may succeed.
func (d *Detector) Configure(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateDenied:
		d.mu.Unlock()
		return ErrDetectorDenied
	case StateArmed, StateFired:
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	_, err, _ := d.configure.Do("configure", func() (any, error) {
		return nil, d.configureOnce(ctx)
	})
	return err
}

func (d *Detector) configureOnce(ctx context.Context) error {
	if err := d.device.Open(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			d.mu.Lock()
			already := d.state == StateDenied
			d.state = StateDenied
			d.mu.Unlock()
			if !already {
				d.emit(d.onDenied)
			}
			return ErrPermissionDenied
		}
		// Device unavailable: no state change, no notification.
		return nil
	}
	d.mu.Lock()
	if d.state == StateUnconfigured {
		d.state = StateArmed
		d.alreadyFired = false
	}
	d.mu.Unlock()
	return nil
}

// IsConfigured reports whether the detector has reached an armed or fired
// state.
func (d *Detector) IsConfigured() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateArmed || d.state == StateFired
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// HandleFrame feeds one frame of decoded symbol candidates to the detector.
// Within an armed period the first recognized symbol wins: it fires the
// OnCode callback once, suspends recognition, and schedules re-arming after
// the cooldown. Everything else in this and later frames is dropped silently.
func (d *Detector) HandleFrame(symbols []Symbol) {
	d.mu.Lock()
	if d.state != StateArmed || d.alreadyFired {
		d.mu.Unlock()
		return
	}
	var fired string
	found := false
	for _, sym := range symbols {
		if recognizedTypes[sym.Type] && sym.Value != "" {
			fired = sym.Value
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return
	}
	d.alreadyFired = true
	d.state = StateFired
	d.rearm = time.AfterFunc(d.cooldown, d.rearmNow)
	onCode := d.onCode
	d.mu.Unlock()

	d.emit(func() {
		if onCode != nil {
			onCode(fired)
		}
	})
}

func (d *Detector) rearmNow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateFired {
		d.state = StateArmed
		d.alreadyFired = false
	}
}

// Reset re-arms a fired detector immediately, independent of the cooldown
// timer, and clears the fired guard.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateFired {
		return
	}
	if d.rearm != nil {
		d.rearm.Stop()
		d.rearm = nil
	}
	d.state = StateArmed
	d.alreadyFired = false
}

// Close stops the dispatch goroutine and any pending re-arm timer. Stopping
// capture does not cancel an in-flight lookup a fired code already triggered.
func (d *Detector) Close() {
	d.closeOne.Do(func() {
		d.mu.Lock()
		if d.rearm != nil {
			d.rearm.Stop()
			d.rearm = nil
		}
		d.mu.Unlock()
		close(d.done)
	})
}
