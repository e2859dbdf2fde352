package scan

import (
	"fmt"
	"sync"

	"github.com/Spok95/school-attendance/internal/models"
)

// keyedLimiter serializes scans for the same (student, service) pair.
// Scans for different keys run fully parallel.
type keyedLimiter struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func newKeyedLimiter() *keyedLimiter {
	return &keyedLimiter{byKey: make(map[string]*sync.Mutex)}
}

func (l *keyedLimiter) lock(studentID int64, service models.ServiceType) func() {
	key := fmt.Sprintf("%d/%s", studentID, service)

	l.mu.Lock()
	m, ok := l.byKey[key]
	if !ok {
		m = &sync.Mutex{}
		l.byKey[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() { m.Unlock() }
}
