// Package suggest keeps recent searches and asks an external generator for
// follow-up search terms. Suggestions are advisory: every failure degrades
// to an empty list.
package suggest

import (
	"slices"
	"strings"
	"sync"
)

// MaxHistory is the number of distinct terms a history keeps.
const MaxHistory = 5

// History is a bounded list of distinct search terms, most recent first.
// Searching for a term already present moves it to the front.
type History struct {
	mu    sync.Mutex
	terms []string
}

// Record adds term at the front. Blank terms are ignored.
func (h *History) Record(term string) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if i := slices.Index(h.terms, term); i >= 0 {
		h.terms = slices.Delete(h.terms, i, i+1)
	}
	h.terms = slices.Insert(h.terms, 0, term)
	if len(h.terms) > MaxHistory {
		h.terms = h.terms[:MaxHistory]
	}
}

// Terms returns a copy of the history, most recent first.
func (h *History) Terms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.terms))
	copy(out, h.terms)
	return out
}

// Histories holds one History per user.
type Histories struct {
	mu    sync.Mutex
	users map[string]*History
}

// NewHistories creates an empty set of histories.
func NewHistories() *Histories {
	return &Histories{users: make(map[string]*History)}
}

// For returns the history of username, creating it on first use.
func (hs *Histories) For(username string) *History {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	h, ok := hs.users[username]
	if !ok {
		h = &History{}
		hs.users[username] = h
	}
	return h
}
