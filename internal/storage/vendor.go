package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// VendorStore persists positive OUI vendor answers keyed by MAC prefix.
type VendorStore struct {
	db *DB
}

// NewVendorStore creates a vendor store on db.
func NewVendorStore(db *DB) *VendorStore {
	return &VendorStore{db: db}
}

// Get returns the cached vendor for prefix. ok is false when the prefix
// has never been resolved.
func (s *VendorStore) Get(prefix string) (vendor string, ok bool, err error) {
	prefix = strings.ToLower(prefix)

	err = s.db.WithRLock(func() error {
		return s.db.QueryRow(`SELECT vendor FROM vendors WHERE prefix = ?`, prefix).Scan(&vendor)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get vendor: %w", err)
	}
	return vendor, true, nil
}

// Save stores vendor for prefix, replacing any earlier answer.
func (s *VendorStore) Save(prefix, vendor string) error {
	query := `INSERT INTO vendors (prefix, vendor, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(prefix) DO UPDATE SET
			  vendor = excluded.vendor,
			  updated_at = excluded.updated_at`

	return s.db.WithLock(func() error {
		if _, err := s.db.Exec(query, strings.ToLower(prefix), vendor, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to save vendor: %w", err)
		}
		return nil
	})
}

// Count returns the number of cached prefixes.
func (s *VendorStore) Count() (int, error) {
	var n int
	err := s.db.WithRLock(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM vendors`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count vendors: %w", err)
	}
	return n, nil
}
