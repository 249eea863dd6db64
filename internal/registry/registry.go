// Package registry enforces the one-tester-per-device-per-gig and
// one-install-per-tester invariants. Both the claim binder and the heartbeat
// processor write through it; it never decides on its own — callers run the
// collision checks first and then Bind/Lock.
package registry

import (
	"fmt"
	"time"

	"vouch/internal/clock"
	"vouch/internal/models"
)

// Store — контракт хранилища привязок. Реализации: gorm (internal/repo)
// и in-memory fallback (repo.Memory).
type Store interface {
	FindTester(gigID, testerID string) (models.Tester, bool, error)
	// MergeTester — partial merge-write; untouched fields keep their values.
	MergeTester(gigID, testerID string, fields map[string]any) error

	// DeviceBindings — secondary index rows for (gig, device).
	DeviceBindings(gigID, deviceID string) ([]models.DeviceBinding, error)
	PutDeviceBinding(gigID, deviceID, testerID string) error
	DeleteDeviceBinding(gigID, deviceID, testerID string) error

	FindInstall(installID string) (models.Install, bool, error)
	// PutInstall — create-if-absent; an existing install record is immutable.
	PutInstall(inst models.Install) error

	// TouchDevice — accumulate (gig, tester) into the global device record's
	// association sets; flagged=true is sticky.
	TouchDevice(deviceID, gigID, testerID string, flagged bool, at time.Time) error
}

type Collision struct {
	Collision     bool
	OtherTesterID string
}

type Registry struct {
	store Store
	clock clock.Clock
}

func New(store Store, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.System{}
	}
	return &Registry{store: store, clock: clk}
}

// CheckDeviceCollision — true if another tester in the gig already holds the
// device. Read-only.
func (r *Registry) CheckDeviceCollision(gigID, deviceID, testerID string) (Collision, error) {
	rows, err := r.store.DeviceBindings(gigID, deviceID)
	if err != nil {
		return Collision{}, fmt.Errorf("device bindings: %w", err)
	}
	for _, b := range rows {
		if b.TesterID != testerID {
			return Collision{Collision: true, OtherTesterID: b.TesterID}, nil
		}
	}
	return Collision{}, nil
}

// CheckInstallCollision — true if the install is already bound to a different
// (gig, tester) pair. Read-only.
func (r *Registry) CheckInstallCollision(gigID, installID, testerID string) (Collision, error) {
	inst, ok, err := r.store.FindInstall(installID)
	if err != nil {
		return Collision{}, fmt.Errorf("find install: %w", err)
	}
	if !ok {
		return Collision{}, nil
	}
	if inst.GigID != gigID || inst.TesterID != testerID {
		return Collision{Collision: true, OtherTesterID: inst.TesterID}, nil
	}
	return Collision{}, nil
}

// Bind — idempotent merge-write of the binding onto tester, install, the
// device-binding index and the global device record. No collision checks here;
// callers must have run them (see the race note in the design doc).
func (r *Registry) Bind(gigID, testerID, deviceID, installID string, isEmulator bool, packageName string) error {
	now := r.clock.Now()
	prev, found, err := r.store.FindTester(gigID, testerID)
	if err != nil {
		return fmt.Errorf("find tester: %w", err)
	}
	if err := r.store.MergeTester(gigID, testerID, map[string]any{
		"device_id":   deviceID,
		"install_id":  installID,
		"is_emulator": isEmulator,
	}); err != nil {
		return fmt.Errorf("merge tester: %w", err)
	}
	if err := r.store.PutInstall(models.Install{
		InstallID:   installID,
		GigID:       gigID,
		TesterID:    testerID,
		DeviceID:    deviceID,
		PackageName: packageName,
		ClaimedAt:   now,
	}); err != nil {
		return fmt.Errorf("put install: %w", err)
	}
	// re-claim onto a new device supersedes the old index row: the index must
	// track the tester's current bound device, not its history, or the old
	// device stays falsely "taken" for everyone else in the gig
	if found && prev.DeviceID != "" && prev.DeviceID != deviceID {
		if err := r.store.DeleteDeviceBinding(gigID, prev.DeviceID, testerID); err != nil {
			return fmt.Errorf("drop stale device binding: %w", err)
		}
	}
	if err := r.store.PutDeviceBinding(gigID, deviceID, testerID); err != nil {
		return fmt.Errorf("put device binding: %w", err)
	}
	if err := r.store.TouchDevice(deviceID, gigID, testerID, false, now); err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// Lock — sticky fraud lock: marks the tester locked, records the offending
// device/session and flags the device globally. Unlocking is an administrative
// action outside this core.
func (r *Registry) Lock(gigID, testerID, suspiciousDeviceID, sessionID string) error {
	if err := r.store.MergeTester(gigID, testerID, map[string]any{
		"locked":            true,
		"suspicious_device": suspiciousDeviceID,
		"last_session_id":   sessionID,
	}); err != nil {
		return fmt.Errorf("lock tester: %w", err)
	}
	if err := r.store.TouchDevice(suspiciousDeviceID, gigID, testerID, true, r.clock.Now()); err != nil {
		return fmt.Errorf("flag device: %w", err)
	}
	return nil
}
