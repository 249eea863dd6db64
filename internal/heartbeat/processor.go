// Package heartbeat accepts periodic liveness signals from bound installs,
// re-validates the binding on every call and records daily engagement.
package heartbeat

import (
	"fmt"
	"time"

	"vouch/internal/clock"
	"vouch/internal/fault"
	"vouch/internal/registry"
	"vouch/internal/streak"
)

type DayStore interface {
	// MergeDay — union event timestamps into the bucket and bump opens by the
	// number of distinct new ones.
	MergeDay(gigID, testerID, dateKey string, stamps []string, now time.Time) error
}

type Processor struct {
	store  registry.Store
	reg    *registry.Registry
	days   DayStore
	streak *streak.Evaluator
	clock  clock.Clock
}

func NewProcessor(store registry.Store, reg *registry.Registry, days DayStore, ev *streak.Evaluator, clk clock.Clock) *Processor {
	if clk == nil {
		clk = clock.System{}
	}
	return &Processor{store: store, reg: reg, days: days, streak: ev, clock: clk}
}

type Payload struct {
	GigID       string
	TesterID    string
	DeviceID    string
	InstallID   string
	SessionID   string
	Timestamps  []time.Time
	IsEmulator  bool
	PackageName string // optional, from device.appPackageName
}

type Result struct {
	Completed            bool
	MultiAccountDetected bool
	DeviceMismatch       bool
}

// Process — единственная точка записи engagement-данных. Side effects либо на
// чистом пути (binding merge + day bucket), либо на lock-пути — никогда оба.
func (p *Processor) Process(in Payload) (Result, error) {
	if in.GigID == "" || in.TesterID == "" || in.DeviceID == "" || in.InstallID == "" ||
		in.SessionID == "" || len(in.Timestamps) == 0 {
		return Result{}, fault.New(fault.InvalidArgument, "gigId, testerId, deviceId, installId, sessionId and timestamps are required")
	}

	tester, ok, err := p.store.FindTester(in.GigID, in.TesterID)
	if err != nil {
		return Result{}, fmt.Errorf("find tester: %w", err)
	}
	if !ok {
		return Result{}, fault.New(fault.NotFound, "tester not assigned to gig")
	}

	// Первый контакт без claim — принимаем присланную привязку как есть.
	mismatch := (tester.DeviceID != "" && tester.DeviceID != in.DeviceID) ||
		(tester.InstallID != "" && tester.InstallID != in.InstallID)

	multiAccount := false
	if !mismatch {
		col, err := p.reg.CheckDeviceCollision(in.GigID, in.DeviceID, in.TesterID)
		if err != nil {
			return Result{}, err
		}
		multiAccount = col.Collision
	}

	if mismatch || multiAccount {
		// Hard stop: lock и выход, day bucket не трогаем.
		if err := p.reg.Lock(in.GigID, in.TesterID, in.DeviceID, in.SessionID); err != nil {
			return Result{}, err
		}
		return Result{Completed: false, MultiAccountDetected: true, DeviceMismatch: mismatch}, nil
	}

	now := p.clock.Now()
	if err := p.reg.Bind(in.GigID, in.TesterID, in.DeviceID, in.InstallID, in.IsEmulator, in.PackageName); err != nil {
		return Result{}, err
	}
	if err := p.store.MergeTester(in.GigID, in.TesterID, map[string]any{
		"last_session_id": in.SessionID,
		"last_seen":       now,
	}); err != nil {
		return Result{}, fmt.Errorf("merge tester liveness: %w", err)
	}

	dateKey := now.UTC().Format("2006-01-02")
	stamps := make([]string, 0, len(in.Timestamps))
	for _, t := range in.Timestamps {
		stamps = append(stamps, t.UTC().Format(time.RFC3339Nano))
	}
	if err := p.days.MergeDay(in.GigID, in.TesterID, dateKey, stamps, now); err != nil {
		return Result{}, fmt.Errorf("merge day bucket: %w", err)
	}

	completed, err := p.streak.Evaluate(in.GigID, in.TesterID)
	if err != nil {
		return Result{}, err
	}
	return Result{Completed: completed}, nil
}
