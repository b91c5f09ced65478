package mockserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Donation is the record the mock service stores and broadcasts.
type Donation struct {
	ID        string    `json:"id"`
	Herotag   string    `json:"herotag"`
	From      string    `json:"from"`
	Amount    float64   `json:"amount"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Donator is one entry of the top donators ranking
type Donator struct {
	Herotag string  `json:"herotag"`
	Amount  float64 `json:"amount"`
	Count   int     `json:"count"`
}

// Recap summarizes the donations received by a streamer
type Recap struct {
	Count    int     `json:"count"`
	Total    float64 `json:"total"`
	Donators int     `json:"donators"`
	Highest  float64 `json:"highest"`
}

// ledger keeps donations in memory, per streamer, in arrival order
type ledger struct {
	mu        sync.RWMutex
	donations map[string][]Donation
}

func newLedger() *ledger {
	return &ledger{donations: make(map[string][]Donation)}
}

func (l *ledger) add(d Donation) Donation {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.donations[d.Herotag] = append(l.donations[d.Herotag], d)
	return d
}

// last returns up to limit donations, newest first
func (l *ledger) last(herotag string, limit int) []Donation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.donations[herotag]
	result := make([]Donation, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, all[i])
	}
	return result
}

// top ranks donators by total amount
func (l *ledger) top(herotag string, limit int) []Donator {
	l.mu.RLock()
	byDonator := make(map[string]*Donator)
	for _, d := range l.donations[herotag] {
		entry, ok := byDonator[d.From]
		if !ok {
			entry = &Donator{Herotag: d.From}
			byDonator[d.From] = entry
		}
		entry.Amount += d.Amount
		entry.Count++
	}
	l.mu.RUnlock()

	result := make([]Donator, 0, len(byDonator))
	for _, entry := range byDonator {
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Amount != result[j].Amount {
			return result[i].Amount > result[j].Amount
		}
		return result[i].Herotag < result[j].Herotag
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (l *ledger) recap(herotag string) Recap {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var r Recap
	donators := make(map[string]struct{})
	for _, d := range l.donations[herotag] {
		r.Count++
		r.Total += d.Amount
		if d.Amount > r.Highest {
			r.Highest = d.Amount
		}
		donators[d.From] = struct{}{}
	}
	r.Donators = len(donators)
	return r
}
