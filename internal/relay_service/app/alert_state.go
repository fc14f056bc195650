package app

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// AlertState is the rolling error counter shared by every job. Lost
// updates under concurrent writers are tolerated; the alerting it feeds
// is operational, not audit-grade.
type AlertState struct {
	count atomic.Int64

	mu          sync.Mutex
	lastMessage string
}

func NewAlertState() *AlertState {
	return &AlertState{}
}

// Record notes one failure and remembers its description for the next
// alert message.
func (s *AlertState) Record(serviceName string, err error) {
	s.count.Add(1)
	s.mu.Lock()
	s.lastMessage = fmt.Sprintf("Error in service %s: %v", serviceName, err)
	s.mu.Unlock()
}

func (s *AlertState) Count() int {
	return int(s.count.Load())
}

func (s *AlertState) LastMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

// Reset zeroes the counter; called only after an error alert was
// successfully dispatched.
func (s *AlertState) Reset() {
	s.count.Store(0)
}
