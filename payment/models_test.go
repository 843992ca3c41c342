package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Payment{Expiration: created.Add(7 * 24 * time.Hour)}

	assert.Equal(t, StatusActive, p.StatusAt(created))
	assert.Equal(t, StatusActive, p.StatusAt(p.Expiration.Add(-time.Second)))
	assert.Equal(t, StatusExpired, p.StatusAt(p.Expiration))
	assert.True(t, p.ExpiredAt(p.Expiration))

	p.Claimed = true
	assert.Equal(t, StatusClaimed, p.StatusAt(p.Expiration.Add(time.Hour)))
}

func TestMatches(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Payment{Sender: "alice", Recipient: "bob", Expiration: now.Add(time.Hour)}

	tests := []struct {
		name string
		opts ListOpts
		want bool
	}{
		{"no filter", ListOpts{}, true},
		{"sender", ListOpts{Sender: "alice"}, true},
		{"other sender", ListOpts{Sender: "carol"}, false},
		{"recipient", ListOpts{Recipient: "bob"}, true},
		{"active now", ListOpts{Status: StatusActive, AsOf: now}, true},
		{"expired later", ListOpts{Status: StatusExpired, AsOf: now.Add(time.Hour)}, true},
		{"claimed", ListOpts{Status: StatusClaimed, AsOf: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Matches(tt.opts))
		})
	}
}
