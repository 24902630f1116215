// Package natter ties the pieces together: key, store, channel, transport,
// discovery, node and service, all built from a single Config.
package natter

import (
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/natternet/natter/src/chainlog"
	"github.com/natternet/natter/src/channel"
	"github.com/natternet/natter/src/config"
	"github.com/natternet/natter/src/crypto/keys"
	"github.com/natternet/natter/src/discovery"
	"github.com/natternet/natter/src/net"
	"github.com/natternet/natter/src/node"
	"github.com/natternet/natter/src/peers"
	"github.com/natternet/natter/src/service"
	"github.com/sirupsen/logrus"
)

// Natter is the top-level engine. Build it with NewNatter, call Init, then
// Run. Run does not block; the caller owns the foreground, which is usually
// the chat terminal.
type Natter struct {
	Config    *config.Config
	Store     chainlog.Store
	Channel   *channel.Channel
	Transport net.Transport
	Discovery *discovery.Discovery
	Node      *node.Node
	Service   *service.Service

	peerStore    *peers.JSONPeerSet
	logger       *logrus.Entry
	shutdownOnce sync.Once
}

// NewNatter instantiates an engine with a config. Call Init before Run.
func NewNatter(config *config.Config) *Natter {
	engine := &Natter{
		Config: config,
		logger: config.Logger(),
	}

	return engine
}

func (b *Natter) initKey() error {
	if b.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(b.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			b.logger.WithError(err).Warn("Cannot read private key from file")

			privKey, err = Keygen(b.Config.DataDir)
			if err != nil {
				b.logger.WithError(err).Error("Cannot generate a new private key")

				return err
			}

			b.logger.WithField("public_key", keys.PublicKeyHex(keys.PublicKey(privKey))).
				Info("Created a new key")
		}

		b.Config.Key = privKey
	}

	return nil
}

func (b *Natter) initStore() error {
	if !b.Config.Store {
		b.Store = chainlog.NewInmemStore()

		b.logger.Debug("created new in-mem store")
	} else {
		var err error

		b.logger.WithField("path", b.Config.DatabaseDir).Debug("Attempting to load or create database")

		b.Store, err = chainlog.NewBadgerStore(b.Config.CacheSize, b.Config.DatabaseDir, b.logger)
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *Natter) initChannel() error {
	var id channel.ID

	if b.Config.Channel == "" {
		id = channel.NewID(keys.PublicKey(b.Config.Key))

		b.logger.WithField("uri", id.URI()).Info("Created new channel")
	} else {
		var err error

		id, err = channel.ParseURI(b.Config.Channel)
		if err != nil {
			return err
		}

		b.logger.WithField("uri", id.URI()).Info("Joining channel")
	}

	ch, err := channel.NewChannel(id, b.Config.Key, b.Store, b.logger)
	if err != nil {
		return err
	}

	b.Channel = ch

	return nil
}

func (b *Natter) initTransport() error {
	var (
		transport *net.NetworkTransport
		err       error
	)

	if b.Config.QUIC {
		transport, err = net.NewQUICTransport(
			b.Config.BindAddr,
			b.Config.AdvertiseAddr,
			b.Config.Timeout,
			b.logger,
		)
	} else {
		transport, err = net.NewTCPTransport(
			b.Config.BindAddr,
			b.Config.AdvertiseAddr,
			b.Config.Timeout,
			b.logger,
		)
	}

	if err != nil {
		return err
	}

	b.Transport = transport

	return nil
}

func (b *Natter) initDiscovery() error {
	if b.Config.NoDiscovery {
		return nil
	}

	disco, err := discovery.NewDiscovery(
		b.Channel.ID(),
		b.Transport.AdvertiseAddr(),
		b.Config.AnnounceInterval,
		b.logger,
	)
	if err != nil {
		return err
	}

	b.Discovery = disco

	return nil
}

func (b *Natter) initNode() error {
	b.peerStore = peers.NewJSONPeerSet(b.Config.DataDir)

	peerSet, err := b.peerStore.PeerSet()
	if err != nil {
		return err
	}

	bootstrap := append(peerSet.NetAddrs(), b.Config.Join...)

	moniker := b.Config.Moniker
	if moniker == "" {
		moniker = b.Channel.LocalOwner()[:8]
	}

	var candidates <-chan string
	if b.Discovery != nil {
		candidates = b.Discovery.Candidates()
	}

	b.Node = node.NewNode(
		node.NewConfig(
			b.Config.AnnounceInterval,
			b.Config.Timeout,
			b.Config.SyncLimit,
			moniker,
			b.logger.Logger,
		),
		b.Channel,
		b.Transport,
		candidates,
		bootstrap,
	)

	return nil
}

func (b *Natter) initService() error {
	if !b.Config.NoService && b.Config.ServiceAddr != "" {
		b.Service = service.NewService(b.Config.ServiceAddr, b.Node, b.Channel, b.logger)
	}

	return nil
}

// Init builds every component in dependency order. It is not safe to call
// Run, Leave or Shutdown unless Init returned nil.
func (b *Natter) Init() error {
	if err := b.initKey(); err != nil {
		return err
	}

	if err := b.initStore(); err != nil {
		return err
	}

	if err := b.initChannel(); err != nil {
		return err
	}

	if err := b.initTransport(); err != nil {
		return err
	}

	if err := b.initDiscovery(); err != nil {
		return err
	}

	if err := b.initNode(); err != nil {
		return err
	}

	if err := b.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service, discovery and the node, all in the background.
func (b *Natter) Run() {
	if b.Service != nil {
		go b.Service.Serve()
	}

	if b.Discovery != nil {
		b.Discovery.Start()
	}

	b.Node.RunAsync()
}

// Leave notifies connected peers before shutting everything down.
func (b *Natter) Leave() {
	b.stop(true)
}

// Shutdown stops everything without notifying peers.
func (b *Natter) Shutdown() {
	b.stop(false)
}

func (b *Natter) stop(leave bool) {
	b.shutdownOnce.Do(func() {
		b.savePeers()

		if leave {
			b.Node.Leave()
		} else {
			b.Node.Shutdown()
		}

		if b.Discovery != nil {
			b.Discovery.Close()
		}

		b.Channel.Close()

		if err := b.Store.Close(); err != nil {
			b.logger.WithError(err).Error("Closing store")
		}
	})
}

// savePeers persists the peers reached over outbound connections, so the
// next run can bootstrap without discovery. Peers behind inbound connections
// are skipped; their source address is not their listen address.
func (b *Natter) savePeers() {
	dialed := b.Node.DialedPeers()
	if len(dialed) == 0 {
		return
	}

	known, err := b.peerStore.PeerSet()
	if err != nil {
		b.logger.WithError(err).Warn("Reading peers.json")
		known = peers.NewPeerSet(nil)
	}

	merged := known
	for _, peer := range dialed {
		merged = merged.WithNewPeer(peer)
	}

	if err := b.peerStore.Write(merged.Peers); err != nil {
		b.logger.WithError(err).Warn("Writing peers.json")
	}
}

// Keygen generates a new key for the given data directory. It refuses to
// overwrite an existing keyfile.
func Keygen(datadir string) (ed25519.PrivateKey, error) {
	keyfile := keys.NewSimpleKeyfile(filepath.Join(datadir, config.DefaultKeyfile))

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", datadir)
	}

	privKey, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
