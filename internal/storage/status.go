package storage

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/status"
)

// KindStatus is the resource_state kind used for status records.
const KindStatus = "status"

// StatusStore persists the last accepted status record of a device
// so the light comes back in the same state after a restart.
type StatusStore struct {
	store    *Store
	deviceID string
}

// NewStatusStore creates a status store for one device.
func NewStatusStore(store *Store, deviceID string) *StatusStore {
	return &StatusStore{store: store, deviceID: deviceID}
}

// Load returns the stored record. ok is false when nothing usable is stored;
// a stored frame that no longer decodes is logged and ignored.
func (s *StatusStore) Load() (rec status.Record, ok bool, err error) {
	payload, _, err := s.store.Get(KindStatus, s.deviceID)
	if err != nil {
		return status.Record{}, false, fmt.Errorf("load status record: %w", err)
	}
	if payload == nil {
		return status.Record{}, false, nil
	}

	rec, err = status.Decode(payload)
	if errors.Is(err, status.ErrMalformed) {
		log.Warn().Err(err).Str("device_id", s.deviceID).Msg("Ignoring stored status record")
		return status.Record{}, false, nil
	}
	if err != nil {
		return status.Record{}, false, err
	}
	return rec, true, nil
}

// Save stores rec as the device's last known state.
func (s *StatusStore) Save(rec status.Record) error {
	version, err := s.store.Set(KindStatus, s.deviceID, rec.Bytes())
	if err != nil {
		return fmt.Errorf("save status record: %w", err)
	}
	log.Debug().Str("device_id", s.deviceID).Int64("version", version).Msg("Status record saved")
	return nil
}

// Reset forgets the stored record.
func (s *StatusStore) Reset() error {
	return s.store.Delete(KindStatus, s.deviceID)
}
