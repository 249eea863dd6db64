package repo

import (
	"errors"
	"time"

	"vouch/internal/models"

	"gorm.io/gorm"
)

// Store — gorm-реализация контрактов registry/heartbeat/claims/admin.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// ── Testers ─────────────────────────────────────────────────

func (s *Store) FindTester(gigID, testerID string) (models.Tester, bool, error) {
	var t models.Tester
	err := s.db.Where("gig_id = ? AND tester_id = ?", gigID, testerID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Tester{}, false, nil
		}
		return models.Tester{}, false, err
	}
	return t, true, nil
}

func (s *Store) MergeTester(gigID, testerID string, fields map[string]any) error {
	return s.db.Model(&models.Tester{}).
		Where("gig_id = ? AND tester_id = ?", gigID, testerID).
		Updates(fields).Error
}

func (s *Store) CreateTester(t *models.Tester) error { return s.db.Create(t).Error }

// ── Device binding index ────────────────────────────────────

func (s *Store) DeviceBindings(gigID, deviceID string) ([]models.DeviceBinding, error) {
	var rows []models.DeviceBinding
	err := s.db.Where("gig_id = ? AND device_id = ?", gigID, deviceID).
		Order("id").Find(&rows).Error
	return rows, err
}

func (s *Store) PutDeviceBinding(gigID, deviceID, testerID string) error {
	var b models.DeviceBinding
	return s.db.Where(&models.DeviceBinding{GigID: gigID, DeviceID: deviceID, TesterID: testerID}).
		FirstOrCreate(&b, models.DeviceBinding{GigID: gigID, DeviceID: deviceID, TesterID: testerID}).Error
}

// DeleteDeviceBinding — hard delete: soft-deleted строка осталась бы в
// уникальном индексе idx_binding и заблокировала бы повторную привязку.
func (s *Store) DeleteDeviceBinding(gigID, deviceID, testerID string) error {
	return s.db.Unscoped().
		Where("gig_id = ? AND device_id = ? AND tester_id = ?", gigID, deviceID, testerID).
		Delete(&models.DeviceBinding{}).Error
}

// ── Installs ────────────────────────────────────────────────

func (s *Store) FindInstall(installID string) (models.Install, bool, error) {
	var inst models.Install
	err := s.db.Where("install_id = ?", installID).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Install{}, false, nil
		}
		return models.Install{}, false, err
	}
	return inst, true, nil
}

// PutInstall — create-if-absent: существующая запись неизменна (re-claim тем же
// тестером не трогает ClaimedAt).
func (s *Store) PutInstall(inst models.Install) error {
	var existing models.Install
	err := s.db.Where("install_id = ?", inst.InstallID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(&inst).Error
}

// ── Devices (global association record) ─────────────────────

func (s *Store) TouchDevice(deviceID, gigID, testerID string, flagged bool, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var d models.Device
		err := tx.Where("device_id = ?", deviceID).First(&d).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			d = models.Device{
				DeviceID:  deviceID,
				TesterIDs: models.EncodeSet([]string{testerID}),
				GigIDs:    models.EncodeSet([]string{gigID}),
				Flagged:   flagged,
				LastUsed:  &at,
			}
			return tx.Create(&d).Error
		}
		if err != nil {
			return err
		}
		d.TesterIDs, _ = models.UnionSet(d.TesterIDs, testerID)
		d.GigIDs, _ = models.UnionSet(d.GigIDs, gigID)
		d.Flagged = d.Flagged || flagged // sticky
		d.LastUsed = &at
		return tx.Save(&d).Error
	})
}

func (s *Store) GetDevice(deviceID string) (models.Device, bool, error) {
	var d models.Device
	err := s.db.Where("device_id = ?", deviceID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Device{}, false, nil
		}
		return models.Device{}, false, err
	}
	return d, true, nil
}

// ── Day buckets ─────────────────────────────────────────────

// MergeDay — merge-write сегодняшнего bucket: union timestamps + инкремент
// opens на число новых (различных) отметок, в одной транзакции.
func (s *Store) MergeDay(gigID, testerID, dateKey string, stamps []string, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var b models.DayBucket
		err := tx.Where("gig_id = ? AND tester_id = ? AND date_key = ?", gigID, testerID, dateKey).
			First(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			set, added := models.UnionSet("", stamps...)
			b = models.DayBucket{
				GigID:       gigID,
				TesterID:    testerID,
				DateKey:     dateKey,
				Opens:       added,
				Timestamps:  set,
				LastUpdated: now,
			}
			return tx.Create(&b).Error
		}
		if err != nil {
			return err
		}
		set, added := models.UnionSet(b.Timestamps, stamps...)
		updates := map[string]any{
			"timestamps":   set,
			"last_updated": now,
		}
		if added > 0 {
			updates["opens"] = gorm.Expr("opens + ?", added)
		}
		return tx.Model(&models.DayBucket{}).Where("id = ?", b.ID).Updates(updates).Error
	})
}

func (s *Store) RecentDays(gigID, testerID string, limit int) ([]models.DayBucket, error) {
	var out []models.DayBucket
	err := s.db.Where("gig_id = ? AND tester_id = ?", gigID, testerID).
		Order("last_updated DESC").Limit(limit).Find(&out).Error
	return out, err
}

// ── Claim codes ─────────────────────────────────────────────

func (s *Store) FindClaimCode(code string) (models.ClaimCode, bool, error) {
	var c models.ClaimCode
	err := s.db.Where("code = ?", code).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ClaimCode{}, false, nil
		}
		return models.ClaimCode{}, false, err
	}
	return c, true, nil
}

// ConsumeClaimCode — атомарный переход used: false -> true. false, если код
// уже использован (условный UPDATE закрывает гонку двух одновременных claim).
func (s *Store) ConsumeClaimCode(code, installID string, at time.Time) (bool, error) {
	res := s.db.Model(&models.ClaimCode{}).
		Where("code = ? AND used = ?", code, false).
		Updates(map[string]any{
			"used":               true,
			"used_at":            at,
			"used_by_install_id": installID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CreateClaimCode(c *models.ClaimCode) error { return s.db.Create(c).Error }

// ── Gigs ────────────────────────────────────────────────────

func (s *Store) CreateGig(g *models.Gig) error { return s.db.Create(g).Error }

func (s *Store) FindGig(gigID string) (models.Gig, bool, error) {
	var g models.Gig
	err := s.db.Where("gig_id = ?", gigID).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Gig{}, false, nil
		}
		return models.Gig{}, false, err
	}
	return g, true, nil
}
