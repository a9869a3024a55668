package sms

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConsoleProvider logs messages instead of sending them. Used in development.
type ConsoleProvider struct {
	mu   sync.RWMutex
	sent map[string]*Message
}

func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{sent: make(map[string]*Message)}
}

func (p *ConsoleProvider) Send(_ context.Context, to, body string) (*Message, error) {
	msg := &Message{SID: "SM" + uuid.NewString(), Status: "sent"}

	p.mu.Lock()
	p.sent[msg.SID] = msg
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"to":  to,
		"sid": msg.SID,
	}).Infof("[console sms] %s", body)
	return msg, nil
}

// Fetch reports every message it sent as delivered.
func (p *ConsoleProvider) Fetch(_ context.Context, sid string) (*Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.sent[sid]; !ok {
		return nil, ErrNotFound
	}
	return &Message{SID: sid, Status: "delivered"}, nil
}

var _ Provider = (*ConsoleProvider)(nil)
