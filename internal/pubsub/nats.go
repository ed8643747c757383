package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes to "<prefix>.<user>.<event>.<kind>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "safewatch.sos"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an update is published on. User and event
// ids are escaped with SubjectToken so each stays a single token.
func (p *NATSPublisher) Subject(u Update) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, SubjectToken(u.UserID), SubjectToken(u.EventID), SubjectToken(string(u.Kind)))
}

// SubjectToken percent-encodes the bytes NATS gives meaning to inside a
// subject (separators, wildcards, whitespace and control characters) plus
// '%' itself. An empty token becomes "_".
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	if !needsEscape(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escapeByte(c) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		if escapeByte(s[i]) {
			return true
		}
	}
	return false
}

func escapeByte(c byte) bool {
	switch c {
	case '.', '*', '>', '%':
		return true
	}
	return c <= ' ' || c == 0x7f
}

func (p *NATSPublisher) Publish(_ context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := p.conn.Publish(p.Subject(u), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}
