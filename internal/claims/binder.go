// Package claims redeems one-time claim codes, establishing the initial
// tester↔install↔device binding for a gig.
package claims

import (
	"fmt"
	"time"

	"vouch/internal/clock"
	"vouch/internal/fault"
	"vouch/internal/models"
	"vouch/internal/registry"
)

type CodeStore interface {
	FindClaimCode(code string) (models.ClaimCode, bool, error)
	// ConsumeClaimCode — atomic used:false->true; false means already used.
	ConsumeClaimCode(code, installID string, at time.Time) (bool, error)
	FindTester(gigID, testerID string) (models.Tester, bool, error)
}

type Binder struct {
	codes CodeStore
	reg   *registry.Registry
	clock clock.Clock
}

func NewBinder(codes CodeStore, reg *registry.Registry, clk clock.Clock) *Binder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Binder{codes: codes, reg: reg, clock: clk}
}

type RedeemInput struct {
	ClaimCode   string
	InstallID   string
	DeviceID    string
	PackageName string
	IsEmulator  bool
}

type RedeemResult struct {
	GigID    string
	TesterID string
}

// Redeem — проверки идут от дешёвых (локальные поля кода) к дорогим
// (collision lookups), чтобы невалидный ввод не плодил лишних запросов.
func (b *Binder) Redeem(in RedeemInput) (RedeemResult, error) {
	if in.ClaimCode == "" || in.InstallID == "" || in.DeviceID == "" || in.PackageName == "" {
		return RedeemResult{}, fault.New(fault.InvalidArgument, "claimCode, installId, deviceId and packageName are required")
	}

	code, ok, err := b.codes.FindClaimCode(in.ClaimCode)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("find claim code: %w", err)
	}
	if !ok {
		return RedeemResult{}, fault.New(fault.NotFound, "claim code not found")
	}
	if code.Used {
		return RedeemResult{}, fault.New(fault.FailedPrecondition, "claim code already used")
	}
	now := b.clock.Now()
	if now.After(code.ExpiresAt) {
		return RedeemResult{}, fault.New(fault.DeadlineExceeded, "claim code expired")
	}
	if code.PackageName != in.PackageName {
		return RedeemResult{}, fault.New(fault.PermissionDenied, "package name does not match claim code")
	}

	gigID, testerID := code.GigID, code.TesterID

	instCol, err := b.reg.CheckInstallCollision(gigID, in.InstallID, testerID)
	if err != nil {
		return RedeemResult{}, err
	}
	if instCol.Collision {
		return RedeemResult{}, fault.New(fault.AlreadyExists, "install already bound to another tester")
	}

	devCol, err := b.reg.CheckDeviceCollision(gigID, in.DeviceID, testerID)
	if err != nil {
		return RedeemResult{}, err
	}
	if devCol.Collision {
		return RedeemResult{}, fault.Newf(fault.PermissionDenied, "device already in use by another tester in gig %s", gigID)
	}

	if _, ok, err := b.codes.FindTester(gigID, testerID); err != nil {
		return RedeemResult{}, fmt.Errorf("find tester: %w", err)
	} else if !ok {
		return RedeemResult{}, fault.New(fault.NotFound, "tester not provisioned in gig")
	}

	// Атомарная отметка кода до bind: второй конкурентный redeem того же кода
	// отвалится здесь, а не после записи привязки.
	consumed, err := b.codes.ConsumeClaimCode(in.ClaimCode, in.InstallID, now)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("consume claim code: %w", err)
	}
	if !consumed {
		return RedeemResult{}, fault.New(fault.FailedPrecondition, "claim code already used")
	}

	if err := b.reg.Bind(gigID, testerID, in.DeviceID, in.InstallID, in.IsEmulator, in.PackageName); err != nil {
		return RedeemResult{}, err
	}
	return RedeemResult{GigID: gigID, TesterID: testerID}, nil
}
