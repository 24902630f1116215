// Package term is the interactive chat surface. It reads lines from an input,
// appends them to the channel as messages, and renders every entry the
// channel publishes, local and remote alike.
package term

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/natternet/natter/src/channel"
	"github.com/natternet/natter/src/common"
	"github.com/sirupsen/logrus"
)

// palette holds the colors assigned to senders. A sender's color is derived
// from their public key, so every member paints a given sender the same way.
var palette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgMagenta),
	color.New(color.FgBlue),
	color.New(color.FgRed),
	color.New(color.FgHiCyan),
	color.New(color.FgHiGreen),
}

func colorFor(owner string) *color.Color {
	return palette[common.Hash32([]byte(owner))%uint32(len(palette))]
}

// Term couples an input and an output to a channel.
type Term struct {
	channel *channel.Channel
	moniker string
	in      io.Reader
	out     io.Writer
	logger  *logrus.Entry
}

// NewTerm returns a Term writing as moniker.
func NewTerm(ch *channel.Channel, moniker string, in io.Reader, out io.Writer, logger *logrus.Entry) *Term {
	return &Term{
		channel: ch,
		moniker: moniker,
		in:      in,
		out:     out,
		logger:  logger,
	}
}

// Run renders incoming entries in the background and reads outgoing lines
// from the input until it is exhausted. It returns when the input ends; the
// render loop stops when the channel is closed.
func (t *Term) Run() error {
	events := t.channel.Subscribe()

	go func() {
		for ev := range events {
			t.renderEvent(ev)
		}
	}()

	return t.readInput()
}

func (t *Term) readInput() error {
	scanner := bufio.NewScanner(t.in)

	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		msg := NewMessage(t.moniker, text)

		payload, err := msg.Marshal()
		if err != nil {
			return err
		}

		if _, err := t.channel.Append(payload); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// renderEvent decodes and prints one published entry. Entries whose payload
// is not a message are skipped; other applications may share the channel.
func (t *Term) renderEvent(ev channel.Event) {
	var msg Message

	if err := msg.Unmarshal(ev.Entry.Payload); err != nil {
		t.logger.WithError(err).WithField("owner", ev.Owner).
			Debug("Skipping entry with opaque payload")
		return
	}

	t.renderMessage(ev.Owner, msg)
}

func (t *Term) renderMessage(owner string, msg Message) {
	from := msg.From
	if from == "" {
		from = shortOwner(owner)
	}

	stamp := time.Unix(msg.SentAt, 0).Format("15:04:05")

	fmt.Fprintf(t.out, "%s %s %s\n", stamp, colorFor(owner).Sprintf("%s:", from), msg.Text)
}

// shortOwner abbreviates a sender's public key for display when the message
// carries no moniker.
func shortOwner(owner string) string {
	if len(owner) <= 8 {
		return owner
	}
	return owner[:8]
}
