package heartbeat_test

import (
	"fmt"
	"testing"
	"time"

	"vouch/internal/clock"
	"vouch/internal/fault"
	"vouch/internal/heartbeat"
	"vouch/internal/models"
	"vouch/internal/registry"
	"vouch/internal/repo"
	"vouch/internal/streak"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gig = "gig-1"

type fixture struct {
	proc *heartbeat.Processor
	mem  *repo.Memory
	clk  *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repo.NewMemory()
	clk := clock.NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	reg := registry.New(mem, clk)
	ev := streak.NewEvaluator(mem, clk)
	return &fixture{proc: heartbeat.NewProcessor(mem, reg, mem, ev, clk), mem: mem, clk: clk}
}

func (f *fixture) provision(t *testing.T, testerID string) {
	t.Helper()
	require.NoError(t, f.mem.CreateTester(&models.Tester{GigID: gig, TesterID: testerID}))
}

func payload(tester, device, install string, stamps ...time.Time) heartbeat.Payload {
	return heartbeat.Payload{
		GigID:      gig,
		TesterID:   tester,
		DeviceID:   device,
		InstallID:  install,
		SessionID:  "sess-1",
		Timestamps: stamps,
	}
}

func TestProcess_MissingFields(t *testing.T) {
	f := newFixture(t)
	cases := []heartbeat.Payload{
		{},
		{GigID: gig, TesterID: "a", DeviceID: "d", InstallID: "i", SessionID: "s"}, // no timestamps
		{GigID: gig, TesterID: "a", DeviceID: "d", InstallID: "i", Timestamps: []time.Time{f.clk.Now()}},
	}
	for i, p := range cases {
		_, err := f.proc.Process(p)
		assert.Equal(t, fault.InvalidArgument, fault.CodeOf(err), fmt.Sprintf("case %d", i))
	}
}

func TestProcess_UnknownTester(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Process(payload("ghost", "dev-1", "inst-1", f.clk.Now()))
	assert.Equal(t, fault.NotFound, fault.CodeOf(err))
}

func TestProcess_FirstContactAdoptsBinding(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")

	res, err := f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
	require.NoError(t, err)
	assert.False(t, res.DeviceMismatch)
	assert.False(t, res.MultiAccountDetected)
	assert.False(t, res.Completed)

	tester, _, err := f.mem.FindTester(gig, "alice")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", tester.DeviceID)
	assert.Equal(t, "inst-1", tester.InstallID)
	assert.Equal(t, "sess-1", tester.LastSessionID)
	assert.False(t, tester.Locked)
	require.NotNil(t, tester.LastSeen)

	days, err := f.mem.RecentDays(gig, "alice", 14)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-05-01", days[0].DateKey)
	assert.Equal(t, 1, days[0].Opens)
}

func TestProcess_DeviceMismatchLocks(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")
	_, err := f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
	require.NoError(t, err)

	res, err := f.proc.Process(payload("alice", "dev-other", "inst-1", f.clk.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, res.DeviceMismatch)
	assert.True(t, res.MultiAccountDetected)
	assert.False(t, res.Completed)

	tester, _, _ := f.mem.FindTester(gig, "alice")
	assert.True(t, tester.Locked)
	assert.Equal(t, "dev-other", tester.SuspiciousDevice)

	dev, ok, _ := f.mem.GetDevice("dev-other")
	require.True(t, ok)
	assert.True(t, dev.Flagged)

	// hard stop: no engagement written for the lock path
	days, _ := f.mem.RecentDays(gig, "alice", 14)
	require.Len(t, days, 1)
	assert.Equal(t, 1, days[0].Opens)
}

func TestProcess_InstallMismatchLocks(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")
	_, err := f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
	require.NoError(t, err)

	res, err := f.proc.Process(payload("alice", "dev-1", "inst-other", f.clk.Now()))
	require.NoError(t, err)
	assert.True(t, res.DeviceMismatch)
	assert.True(t, res.MultiAccountDetected)
}

func TestProcess_CrossTesterDeviceCollision(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")
	f.provision(t, "bob")
	_, err := f.proc.Process(payload("alice", "dev-1", "inst-a", f.clk.Now()))
	require.NoError(t, err)

	// bob's own binding is internally consistent (first contact), but the
	// device already belongs to alice in this gig
	res, err := f.proc.Process(payload("bob", "dev-1", "inst-b", f.clk.Now()))
	require.NoError(t, err)
	assert.False(t, res.DeviceMismatch)
	assert.True(t, res.MultiAccountDetected)

	bob, _, _ := f.mem.FindTester(gig, "bob")
	assert.True(t, bob.Locked)
	assert.Empty(t, bob.DeviceID, "lock path must not adopt the binding")

	days, _ := f.mem.RecentDays(gig, "bob", 14)
	assert.Empty(t, days)
}

func TestProcess_LockIsSticky(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")
	_, err := f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
	require.NoError(t, err)
	_, err = f.proc.Process(payload("alice", "dev-other", "inst-1", f.clk.Now()))
	require.NoError(t, err)

	// a later heartbeat from the original device does not clear the lock
	_, err = f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
	require.NoError(t, err)
	tester, _, _ := f.mem.FindTester(gig, "alice")
	assert.True(t, tester.Locked)
}

func TestProcess_OpensCountsDistinctTimestamps(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")
	ts := f.clk.Now()

	_, err := f.proc.Process(payload("alice", "dev-1", "inst-1", ts, ts.Add(time.Minute)))
	require.NoError(t, err)
	// resend one known timestamp plus one new
	_, err = f.proc.Process(payload("alice", "dev-1", "inst-1", ts, ts.Add(2*time.Minute)))
	require.NoError(t, err)

	days, err := f.mem.RecentDays(gig, "alice", 14)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 3, days[0].Opens)
	assert.Len(t, models.DecodeSet(days[0].Timestamps), 3)
}

func TestProcess_FourteenDayStreakCompletes(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice")

	var last heartbeat.Result
	for i := 0; i < 14; i++ {
		res, err := f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
		require.NoError(t, err)
		last = res
		if i < 13 {
			assert.False(t, res.Completed, fmt.Sprintf("day %d must not complete", i+1))
			f.clk.Advance(24 * time.Hour)
		}
	}
	assert.True(t, last.Completed)

	// a skipped day resets certification
	f.clk.Advance(48 * time.Hour)
	res, err := f.proc.Process(payload("alice", "dev-1", "inst-1", f.clk.Now()))
	require.NoError(t, err)
	assert.False(t, res.Completed)
}
