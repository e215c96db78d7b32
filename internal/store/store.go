// Package store provides a BoltDB-backed record of streaming sessions and of
// cameras discovered by the beacon watcher.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"mjpegcast/internal/beacon"
)

var (
	sessionsBucket = []byte("sessions")
	camerasBucket  = []byte("cameras")
)

// SessionRecord describes one finished client session.
type SessionRecord struct {
	ID      string    `msgpack:"id"`
	Peer    string    `msgpack:"peer"`
	Started time.Time `msgpack:"started"`
	Ended   time.Time `msgpack:"ended"`
	Frames  uint64    `msgpack:"frames"`
	Bytes   uint64    `msgpack:"bytes"`
	Reason  string    `msgpack:"reason"`
	Error   string    `msgpack:"error,omitempty"`
}

// Duration returns how long the session lasted.
func (r SessionRecord) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}

// CameraRecord represents a camera seen on the discovery port.
type CameraRecord struct {
	Beacon      beacon.Message `msgpack:"beacon"`
	Source      string         `msgpack:"source"`
	FirstSeen   time.Time      `msgpack:"first_seen"`
	LastSeen    time.Time      `msgpack:"last_seen"`
	BeaconCount uint64         `msgpack:"beacon_count"`
	Active      bool           `msgpack:"active"`
}

// Store wraps a bbolt database.
type Store struct {
	db           *bolt.DB
	mu           sync.RWMutex
	historyLimit int
	log          zerolog.Logger
}

// New opens or creates a BoltDB file at the given path. historyLimit caps the
// number of session records kept; zero or less keeps everything.
func New(path string, historyLimit int, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, camerasBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, historyLimit: historyLimit, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// sessionKey sorts by start time, then by id for sessions started in the same nanosecond.
func sessionKey(r SessionRecord) []byte {
	key := make([]byte, 8, 8+len(r.ID))
	binary.BigEndian.PutUint64(key, uint64(r.Started.UnixNano()))
	return append(key, r.ID...)
}

// RecordSession stores a finished session and trims history to the limit.
func (s *Store) RecordSession(r SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if err := b.Put(sessionKey(r), data); err != nil {
			return err
		}
		if s.historyLimit <= 0 {
			return nil
		}

		c := b.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		excess := count - s.historyLimit
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// RecentSessions returns up to n sessions, newest first. n <= 0 returns all.
func (s *Store) RecentSessions(n int) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(sessionsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(records) >= n {
				break
			}
			var r SessionRecord
			if err := msgpack.Unmarshal(v, &r); err != nil {
				s.log.Warn().Err(err).Msg("Skipping corrupt session record")
				continue
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

func cameraKey(m beacon.Message) []byte {
	return []byte(fmt.Sprintf("%s:%d", m.IP, m.Port))
}

// UpsertCamera inserts or refreshes a camera keyed by its advertised ip:port.
// It reports whether the camera is new or had gone inactive.
func (s *Store) UpsertCamera(msg beacon.Message, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(camerasBucket)
		key := cameraKey(msg)

		now := time.Now()
		var record CameraRecord

		existing := b.Get(key)
		if existing != nil {
			if err := msgpack.Unmarshal(existing, &record); err != nil {
				s.log.Warn().Err(err).Str("camera", string(key)).Msg("Failed to unmarshal existing record, overwriting")
				record = CameraRecord{FirstSeen: now}
			}
			fresh = !record.Active
			record.Beacon = msg
			record.Source = source
			record.LastSeen = now
			record.BeaconCount++
			record.Active = true

			s.log.Debug().
				Str("camera", string(key)).
				Str("name", msg.Name).
				Msg("Camera updated")
		} else {
			fresh = true
			record = CameraRecord{
				Beacon:      msg,
				Source:      source,
				FirstSeen:   now,
				LastSeen:    now,
				BeaconCount: 1,
				Active:      true,
			}
		}

		data, err := msgpack.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling camera record: %w", err)
		}
		return b.Put(key, data)
	})
	return fresh, err
}

// Cameras returns all camera records.
func (s *Store) Cameras() ([]CameraRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []CameraRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(camerasBucket)
		return b.ForEach(func(k, v []byte) error {
			var record CameraRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Str("key", string(k)).Msg("Skipping corrupt record")
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// ActiveCameras returns only active camera records.
func (s *Store) ActiveCameras() ([]CameraRecord, error) {
	all, err := s.Cameras()
	if err != nil {
		return nil, err
	}

	var active []CameraRecord
	for _, r := range all {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

// RunExpiry marks cameras inactive once their LastSeen is older than threshold.
// It checks every checkInterval until ctx is done.
func (s *Store) RunExpiry(ctx context.Context, checkInterval, threshold time.Duration) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireStaleCameras(time.Now().Add(-threshold))
			}
		}
	}()
}

func (s *Store) expireStaleCameras(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(camerasBucket)

		expired := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			var record CameraRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				return nil
			}
			if !record.Active || !record.LastSeen.Before(cutoff) {
				return nil
			}

			record.Active = false
			data, err := msgpack.Marshal(record)
			if err != nil {
				return nil
			}
			expired[string(k)] = data

			s.log.Info().
				Str("camera", string(k)).
				Str("name", record.Beacon.Name).
				Time("last_seen", record.LastSeen).
				Msg("Camera marked inactive")
			return nil
		})
		if err != nil {
			return err
		}

		// Writes happen after iteration; bbolt does not allow mutation inside ForEach.
		for k, data := range expired {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Database error during expiry check")
	}
}
