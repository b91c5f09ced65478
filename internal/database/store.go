package database

import (
	"context"

	"github.com/alexbotov/streamparticles/internal/relay"
)

// DonationStore is a relay.Notifier archiving every donation.
type DonationStore struct {
	db *DB
}

func NewDonationStore(db *DB) *DonationStore {
	return &DonationStore{db: db}
}

func (s *DonationStore) Notify(ctx context.Context, d relay.Donation) error {
	payload := []byte(d.Data)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := s.db.InsertDonation(ctx, d.Herotag, payload, d.ReceivedAt)
	return err
}

// Close closes the underlying database.
func (s *DonationStore) Close() error {
	return s.db.Close()
}
