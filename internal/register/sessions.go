package register

import (
	"sync"

	"github.com/noah-isme/pos-billing/internal/bill"
)

// session serialises access to one open bill. A bill belongs to a single checkout session, so
// requests against the same reference queue on its mutex.
type session struct {
	mu   sync.Mutex
	bill *bill.Bill
}

type sessions struct {
	mu   sync.RWMutex
	open map[int64]*session
}

func newSessions() *sessions {
	return &sessions{open: make(map[int64]*session)}
}

func (s *sessions) put(b *bill.Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[b.Reference()] = &session{bill: b}
}

func (s *sessions) get(ref int64) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.open[ref]
	return sess, ok
}

// remove drops a closed bill; requests already queued on its lock still see the bill.
func (s *sessions) remove(ref int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, ref)
}

// with runs fn while holding the bill's session lock.
func (s *sessions) with(ref int64, fn func(*bill.Bill) error) error {
	sess, ok := s.get(ref)
	if !ok {
		return errBillNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess.bill)
}

func (s *sessions) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}
