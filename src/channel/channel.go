package channel

import (
	"crypto/ed25519"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/natternet/natter/src/chainlog"
	"github.com/natternet/natter/src/crypto/keys"
)

// Event is one committed entry, delivered to subscribers after the commit is
// visible. Local marks entries appended by this node rather than replicated
// from a peer.
type Event struct {
	Owner string
	Entry *chainlog.Entry
	Local bool
}

// subscriberBuffer is the size of each subscriber's event queue. Events are
// dropped, not blocked on, when a subscriber falls this far behind; the log
// store remains the source of truth.
const subscriberBuffer = 1024

// Channel is the live context of one chat channel: a channel ID (the
// creator's public key), the local identity, and one append-only Log per
// known member. The Channel exclusively owns its logs; every write, local or
// replicated, goes through it.
type Channel struct {
	id ID

	privKey    ed25519.PrivateKey
	localPub   ed25519.PublicKey
	localOwner string

	store chainlog.Store

	mu   sync.RWMutex
	logs map[string]*chainlog.Log

	subMu sync.Mutex
	subs  []chan Event

	logger *logrus.Entry
}

// NewChannel restores every log the store knows about and guarantees the
// local identity's log exists. privKey is the local identity; id may be the
// local identity's own public key (creating a channel) or someone else's
// (joining one).
func NewChannel(id ID, privKey ed25519.PrivateKey, store chainlog.Store, logger *logrus.Entry) (*Channel, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	c := &Channel{
		id:       NewID(ed25519.PublicKey(id)),
		privKey:  privKey,
		localPub: keys.PublicKey(privKey),
		store:    store,
		logs:     make(map[string]*chainlog.Log),
		logger:   logger.WithField("channel", ID(id).String()),
	}

	c.localOwner = keys.PublicKeyHex(c.localPub)

	for _, owner := range store.Owners() {
		log, err := chainlog.NewLog(owner, owner == c.localOwner, store)
		if err != nil {
			return nil, err
		}
		c.logs[owner] = log
	}

	if _, ok := c.logs[c.localOwner]; !ok {
		log, err := chainlog.NewLog(c.localOwner, true, store)
		if err != nil {
			return nil, err
		}
		c.logs[c.localOwner] = log
	}

	return c, nil
}

// ID returns the channel ID.
func (c *Channel) ID() ID {
	return c.id
}

// URI returns the shareable chat:// link of the channel.
func (c *Channel) URI() string {
	return c.id.URI()
}

// LocalOwner returns the canonical hex form of the local identity.
func (c *Channel) LocalOwner() string {
	return c.localOwner
}

// LocalPublicKey returns the local identity's public key.
func (c *Channel) LocalPublicKey() ed25519.PublicKey {
	return c.localPub
}

// SignHead signs a head digest of the local log. The private key never
// leaves the channel.
func (c *Channel) SignHead(head []byte) []byte {
	return keys.Sign(c.privKey, chainlog.HeadMessage(c.localPub, head))
}

// LocalLog returns the log this node appends to.
func (c *Channel) LocalLog() *chainlog.Log {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logs[c.localOwner]
}

// Log returns the log owned by owner, if the channel knows it.
func (c *Channel) Log(owner string) (*chainlog.Log, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	log, ok := c.logs[owner]
	return log, ok
}

// Logs returns a snapshot of the known logs, keyed by owner.
func (c *Channel) Logs() map[string]*chainlog.Log {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*chainlog.Log, len(c.logs))
	for owner, log := range c.logs {
		out[owner] = log
	}
	return out
}

// Owners returns the known log owners, sorted.
func (c *Channel) Owners() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	owners := make([]string, 0, len(c.logs))
	for owner := range c.logs {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// CreateLog registers a replica log for a new member identity. Sessions call
// this only after the identity's first announce carried a valid head
// signature. Creating a log that already exists returns the existing one.
func (c *Channel) CreateLog(owner string) (*chainlog.Log, error) {
	if _, err := keys.ParsePublicKey(owner); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if log, ok := c.logs[owner]; ok {
		return log, nil
	}

	log, err := chainlog.NewLog(owner, owner == c.localOwner, c.store)
	if err != nil {
		return nil, err
	}

	c.logs[owner] = log

	c.logger.WithField("owner", owner).Debug("New log")

	return log, nil
}

// Append seals payload into the local log and notifies subscribers. This is
// the only way the local log grows.
func (c *Channel) Append(payload []byte) (*chainlog.Entry, error) {
	entry, err := c.LocalLog().Append(payload)
	if err != nil {
		return nil, err
	}

	c.publish(Event{Owner: c.localOwner, Entry: entry, Local: true})

	return entry, nil
}

// Apply commits verified entries to owner's replica log and notifies
// subscribers of each. The error contract is chainlog.Log.ApplyVerified's:
// ErrStale duplicates are the caller's no-op, RangeErrors flag gaps, and
// IntegrityErrors are fatal for the delivering session.
func (c *Channel) Apply(owner string, entries []*chainlog.Entry, startPrev []byte) error {
	log, ok := c.Log(owner)
	if !ok {
		var err error
		log, err = c.CreateLog(owner)
		if err != nil {
			return err
		}
	}

	if err := log.ApplyVerified(entries, startPrev); err != nil {
		return err
	}

	for _, entry := range entries {
		c.publish(Event{Owner: owner, Entry: entry})
	}

	return nil
}

// Subscribe registers an event queue for committed entries. Subscribers that
// stop draining lose events once their buffer fills.
func (c *Channel) Subscribe() <-chan Event {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	c.subs = append(c.subs, ch)
	return ch
}

func (c *Channel) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subs {
		select {
		case sub <- ev:
		default:
			c.logger.WithFields(logrus.Fields{
				"owner": ev.Owner,
				"seq":   ev.Entry.Seq,
			}).Warn("Subscriber queue full, dropping event")
		}
	}
}

// TotalEntries returns the number of committed entries across all logs.
func (c *Channel) TotalEntries() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total uint64
	for _, log := range c.logs {
		total += log.Length()
	}
	return total
}

// Close tears down the subscriber queues. The store is owned by the caller
// and stays open.
func (c *Channel) Close() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subs {
		close(sub)
	}
	c.subs = nil
}
