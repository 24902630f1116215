// Package discovery finds channel members on the local network over mDNS.
//
// Every node multicasts a TXT query for the channel's service name once per
// interval, and answers other nodes' queries with a TXT record carrying a
// random self-token and its reachable address. The service name is derived
// from the channel ID with a keyed digest, so passive listeners on the
// multicast group learn that someone runs a channel, but not which one.
//
// Discovery only supplies candidate addresses; it never opens connections
// and it is not used beyond the local link.
package discovery

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/natternet/natter/src/common"
	"github.com/natternet/natter/src/crypto"
)

const (
	mdnsAddress = "224.0.0.251"
	mdnsPort    = 5353

	nameSuffix = "chat.local."

	// discoveryContext separates the advertised digest from every other use
	// of the channel key.
	discoveryContext = "natter"

	// candidateBuffer bounds queued candidate addresses; excess
	// advertisements are dropped, the next announce round repeats them.
	candidateBuffer = 64
)

// ServiceName derives the mDNS name advertised for a channel: the first 40
// hex characters of a keyed digest of the channel ID, under the chat.local.
// domain.
func ServiceName(id []byte) string {
	digest := crypto.KeyedHash(id, []byte(discoveryContext))
	return common.EncodeToString(digest)[:40] + "." + nameSuffix
}

// Discovery announces our presence for one channel and collects other
// members' advertisements into a channel of dialable addresses.
type Discovery struct {
	name  string
	token string

	advertiseIP   net.IP
	advertisePort uint16

	group *net.UDPAddr
	conn  *net.UDPConn

	interval time.Duration
	candCh   chan string

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	logger *logrus.Entry
}

// NewDiscovery joins the mDNS group for the channel id. advertiseAddr is the
// host:port other members should dial; when its host part is not a concrete
// IPv4 address, receivers fall back to the packet's source address.
func NewDiscovery(
	id []byte,
	advertiseAddr string,
	interval time.Duration,
	logger *logrus.Entry,
) (*Discovery, error) {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	host, portStr, err := net.SplitHostPort(advertiseAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("advertise port %q: %v", portStr, err)
	}

	var ip net.IP
	if parsed := net.ParseIP(host); parsed != nil {
		ip = parsed.To4()
	}
	if ip == nil {
		ip = net.IPv4zero.To4()
	}

	group := &net.UDPAddr{IP: net.ParseIP(mdnsAddress), Port: mdnsPort}

	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, err
	}

	name := ServiceName(id)

	return &Discovery{
		name:          name,
		token:         uuid.New().String(),
		advertiseIP:   ip,
		advertisePort: uint16(port),
		group:         group,
		conn:          conn,
		interval:      interval,
		candCh:        make(chan string, candidateBuffer),
		shutdownCh:    make(chan struct{}),
		logger:        logger.WithField("service", name),
	}, nil
}

// Start launches the announce and listen loops.
func (d *Discovery) Start() {
	go d.listen()
	go d.announce()
}

// Candidates returns the channel on which discovered peer addresses are
// delivered. The same address is repeated as long as the peer keeps
// answering; consumers are expected to deduplicate.
func (d *Discovery) Candidates() <-chan string {
	return d.candCh
}

// IsShutdown is used to check if the discovery is shutdown.
func (d *Discovery) IsShutdown() bool {
	select {
	case <-d.shutdownCh:
		return true
	default:
		return false
	}
}

// Close leaves the multicast group and stops both loops.
func (d *Discovery) Close() error {
	d.shutdownLock.Lock()
	defer d.shutdownLock.Unlock()

	if !d.shutdown {
		close(d.shutdownCh)
		d.conn.Close()

		d.shutdown = true
	}
	return nil
}

// announce multicasts the TXT query for our service name once per interval.
func (d *Discovery) announce() {
	packed, err := d.question().Pack()
	if err != nil {
		d.logger.WithField("error", err).Error("Failed to pack discovery query")
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.conn.WriteToUDP(packed, d.group); err != nil {
			if d.IsShutdown() {
				return
			}
			d.logger.WithField("error", err).Debug("Failed to send discovery query")
		}

		select {
		case <-ticker.C:
		case <-d.shutdownCh:
			return
		}
	}
}

// listen consumes multicast packets until the socket is closed.
func (d *Discovery) listen() {
	buf := make([]byte, 65536)

	for {
		n, src, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if d.IsShutdown() {
				return
			}
			d.logger.WithField("error", err).Debug("Failed to read discovery packet")
			continue
		}

		d.handlePacket(buf[:n], src)
	}
}

func (d *Discovery) handlePacket(raw []byte, src *net.UDPAddr) {
	var msg dns.Msg
	if err := msg.Unpack(raw); err != nil {
		return
	}

	// Only messages about our service name concern us.
	if !d.matches(&msg) {
		return
	}

	if !msg.Response {
		// Someone is looking for the channel: answer with our own record.
		packed, err := d.answer().Pack()
		if err != nil {
			d.logger.WithField("error", err).Error("Failed to pack discovery answer")
			return
		}
		if _, err := d.conn.WriteToUDP(packed, d.group); err != nil && !d.IsShutdown() {
			d.logger.WithField("error", err).Debug("Failed to send discovery answer")
		}
		return
	}

	ip, port, token, ok := parseAnswer(&msg)
	if !ok || token == d.token {
		return
	}

	// An unspecified advertised address means "use where the packet came
	// from".
	if ip.IsUnspecified() && src != nil {
		ip = src.IP
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))

	select {
	case d.candCh <- addr:
	default:
	}
}

func (d *Discovery) matches(msg *dns.Msg) bool {
	for _, q := range msg.Question {
		if strings.EqualFold(q.Name, d.name) {
			return true
		}
	}
	return false
}

func (d *Discovery) question() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(d.name, dns.TypeTXT)
	m.RecursionDesired = false
	return m
}

func (d *Discovery) answer() *dns.Msg {
	m := d.question()
	m.Response = true
	m.Authoritative = true

	m.Answer = append(m.Answer, &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   d.name,
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
		},
		Txt: []string{
			"token=" + d.token,
			"peers=" + encodePeersField(d.advertiseIP, d.advertisePort),
		},
	})

	return m
}

// parseAnswer extracts the advertised address and self-token from a
// response. Both TXT fields must be present.
func parseAnswer(msg *dns.Msg) (net.IP, uint16, string, bool) {
	for _, rr := range msg.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}

		fields := make(map[string]string, 2)
		for _, s := range txt.Txt {
			parts := strings.SplitN(s, "=", 2)
			if len(parts) != 2 {
				continue
			}
			if parts[0] == "token" || parts[0] == "peers" {
				fields[parts[0]] = parts[1]
			}
		}

		token, hasToken := fields["token"]
		peers, hasPeers := fields["peers"]
		if !hasToken || !hasPeers {
			continue
		}

		ip, port, err := decodePeersField(peers)
		if err != nil {
			continue
		}

		return ip, port, token, true
	}

	return nil, 0, "", false
}

// encodePeersField packs an IPv4 address and port into the 6-byte base64
// field carried in TXT records.
func encodePeersField(ip net.IP, port uint16) string {
	buf := make([]byte, 6)
	if ip4 := ip.To4(); ip4 != nil {
		copy(buf, ip4)
	}
	binary.BigEndian.PutUint16(buf[4:], port)
	return base64.StdEncoding.EncodeToString(buf)
}

func decodePeersField(data string) (net.IP, uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, 0, err
	}
	if len(raw) != 6 {
		return nil, 0, fmt.Errorf("peers field should be 6 bytes, got %d", len(raw))
	}

	ip := net.IPv4(raw[0], raw[1], raw[2], raw[3])
	port := binary.BigEndian.Uint16(raw[4:])

	return ip, port, nil
}
