package repo

import (
	"sort"
	"sync"
	"time"

	"vouch/internal/models"
)

// Memory — in-memory fallback store (режим без БД и unit-тесты). Повторяет
// merge-семантику gorm-реализации; сериализация через один mutex.
type Memory struct {
	mu       sync.RWMutex
	gigs     map[string]models.Gig
	testers  map[string]models.Tester
	bindings map[string][]models.DeviceBinding
	installs map[string]models.Install
	devices  map[string]models.Device
	days     map[string]models.DayBucket
	codes    map[string]models.ClaimCode
	nextID   uint
}

func NewMemory() *Memory {
	return &Memory{
		gigs:     make(map[string]models.Gig),
		testers:  make(map[string]models.Tester),
		bindings: make(map[string][]models.DeviceBinding),
		installs: make(map[string]models.Install),
		devices:  make(map[string]models.Device),
		days:     make(map[string]models.DayBucket),
		codes:    make(map[string]models.ClaimCode),
	}
}

func key2(a, b string) string    { return a + "|" + b }
func key3(a, b, c string) string { return a + "|" + b + "|" + c }

func (m *Memory) id() uint { m.nextID++; return m.nextID }

// ── Testers ─────────────────────────────────────────────────

func (m *Memory) FindTester(gigID, testerID string) (models.Tester, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.testers[key2(gigID, testerID)]
	return t, ok, nil
}

func (m *Memory) MergeTester(gigID, testerID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.testers[key2(gigID, testerID)]
	if !ok {
		return nil // merge на отсутствующей записи — no-op, как UPDATE с 0 строк
	}
	for k, v := range fields {
		switch k {
		case "device_id":
			t.DeviceID = v.(string)
		case "install_id":
			t.InstallID = v.(string)
		case "is_emulator":
			t.IsEmulator = v.(bool)
		case "locked":
			t.Locked = v.(bool)
		case "suspicious_device":
			t.SuspiciousDevice = v.(string)
		case "last_session_id":
			t.LastSessionID = v.(string)
		case "last_seen":
			ts := v.(time.Time)
			t.LastSeen = &ts
		}
	}
	m.testers[key2(gigID, testerID)] = t
	return nil
}

func (m *Memory) CreateTester(t *models.Tester) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	m.testers[key2(t.GigID, t.TesterID)] = *t
	return nil
}

// ── Device binding index ────────────────────────────────────

func (m *Memory) DeviceBindings(gigID, deviceID string) ([]models.DeviceBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.bindings[key2(gigID, deviceID)]
	out := make([]models.DeviceBinding, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *Memory) PutDeviceBinding(gigID, deviceID, testerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(gigID, deviceID)
	for _, b := range m.bindings[k] {
		if b.TesterID == testerID {
			return nil
		}
	}
	b := models.DeviceBinding{GigID: gigID, DeviceID: deviceID, TesterID: testerID}
	b.ID = m.id()
	m.bindings[k] = append(m.bindings[k], b)
	return nil
}

func (m *Memory) DeleteDeviceBinding(gigID, deviceID, testerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key2(gigID, deviceID)
	rows := m.bindings[k]
	for i, b := range rows {
		if b.TesterID == testerID {
			m.bindings[k] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

// ── Installs ────────────────────────────────────────────────

func (m *Memory) FindInstall(installID string) (models.Install, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.installs[installID]
	return inst, ok, nil
}

func (m *Memory) PutInstall(inst models.Install) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.installs[inst.InstallID]; ok {
		return nil // immutable after first claim
	}
	inst.ID = m.id()
	m.installs[inst.InstallID] = inst
	return nil
}

// ── Devices ─────────────────────────────────────────────────

func (m *Memory) TouchDevice(deviceID, gigID, testerID string, flagged bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		d = models.Device{DeviceID: deviceID}
		d.ID = m.id()
	}
	d.TesterIDs, _ = models.UnionSet(d.TesterIDs, testerID)
	d.GigIDs, _ = models.UnionSet(d.GigIDs, gigID)
	d.Flagged = d.Flagged || flagged
	t := at
	d.LastUsed = &t
	m.devices[deviceID] = d
	return nil
}

func (m *Memory) GetDevice(deviceID string) (models.Device, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	return d, ok, nil
}

// ── Day buckets ─────────────────────────────────────────────

func (m *Memory) MergeDay(gigID, testerID, dateKey string, stamps []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key3(gigID, testerID, dateKey)
	b, ok := m.days[k]
	if !ok {
		b = models.DayBucket{GigID: gigID, TesterID: testerID, DateKey: dateKey}
		b.ID = m.id()
	}
	set, added := models.UnionSet(b.Timestamps, stamps...)
	b.Timestamps = set
	b.Opens += added
	b.LastUpdated = now
	m.days[k] = b
	return nil
}

func (m *Memory) RecentDays(gigID, testerID string, limit int) ([]models.DayBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DayBucket
	for _, b := range m.days {
		if b.GigID == gigID && b.TesterID == testerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Claim codes ─────────────────────────────────────────────

func (m *Memory) FindClaimCode(code string) (models.ClaimCode, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[code]
	return c, ok, nil
}

func (m *Memory) ConsumeClaimCode(code, installID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	t := at
	c.UsedAt = &t
	c.UsedByInstallID = installID
	m.codes[code] = c
	return true, nil
}

func (m *Memory) CreateClaimCode(c *models.ClaimCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.codes[c.Code] = *c
	return nil
}

// ── Gigs ────────────────────────────────────────────────────

func (m *Memory) CreateGig(g *models.Gig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = m.id()
	m.gigs[g.GigID] = *g
	return nil
}

func (m *Memory) FindGig(gigID string) (models.Gig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gigs[gigID]
	return g, ok, nil
}
