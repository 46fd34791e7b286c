// Package fingerprint derives stable identity tokens for inbound chat events.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

// DefaultTicketPattern matches the tracker keys the bot reacts to.
const DefaultTicketPattern = `ISD-\d{5}`

// fieldSeparator cannot appear in chat ids, timestamps or ticket keys, so
// shifting a field boundary always changes the hashed input.
const fieldSeparator = "\x00"

// Deriver computes fingerprints and extracts ticket keys.
type Deriver struct {
	pattern *regexp.Regexp
}

// NewDeriver compiles the ticket key pattern. An empty pattern selects
// DefaultTicketPattern.
func NewDeriver(pattern string) (*Deriver, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = DefaultTicketPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ticket pattern %q", pattern)
	}
	return &Deriver{pattern: re}, nil
}

// TicketKey returns the first ticket key in text, or "" when none is present.
func (d *Deriver) TicketKey(text string) string {
	return d.pattern.FindString(text)
}

// Fingerprint returns the 16 hex char token for ev. Events without a ticket
// key hash with an empty key, so repeated non-ticket chatter from the same
// user, channel and timestamp collapses to one token.
func (d *Deriver) Fingerprint(ev models.InboundEvent) string {
	return Compute(ev.Channel, ev.User, d.TicketKey(ev.Text), ev.Timestamp, ev.MessageClass())
}

// Compute hashes the significant fields in a fixed order with FNV-64a.
func Compute(channel, user, ticketKey, timestamp, class string) string {
	h := fnv.New64a()
	for i, field := range []string{channel, user, ticketKey, timestamp, class} {
		if i > 0 {
			_, _ = h.Write([]byte(fieldSeparator))
		}
		_, _ = h.Write([]byte(field))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
