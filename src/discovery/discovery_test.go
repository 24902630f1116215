package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"

	"github.com/natternet/natter/src/common"
)

func TestServiceName(t *testing.T) {
	id := []byte("abcdefghijklmnopqrstuvwxyz012345")

	name := ServiceName(id)

	if !strings.HasSuffix(name, "."+nameSuffix) {
		t.Fatalf("ServiceName should end in %s, got %s", nameSuffix, name)
	}

	label := strings.TrimSuffix(name, "."+nameSuffix)
	if len(label) != 40 {
		t.Fatalf("label should be 40 hex chars, got %d (%s)", len(label), label)
	}
	if _, err := common.DecodeFromString(label); err != nil {
		t.Fatalf("label should be hex: %v", err)
	}

	if ServiceName(id) != name {
		t.Fatal("ServiceName should be deterministic")
	}

	other := ServiceName([]byte("512345abcdefghijklmnopqrstuvwxyz"))
	if other == name {
		t.Fatal("different channels should get different names")
	}
}

func TestPeersFieldRoundTrip(t *testing.T) {
	field := encodePeersField(net.ParseIP("192.168.1.7"), 4242)

	ip, port, err := decodePeersField(field)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !ip.Equal(net.ParseIP("192.168.1.7")) {
		t.Fatalf("ip should be 192.168.1.7, got %s", ip)
	}
	if port != 4242 {
		t.Fatalf("port should be 4242, got %d", port)
	}

	// An unspecified address encodes as zeros; receivers substitute the
	// packet source.
	ip, _, err = decodePeersField(encodePeersField(net.IPv4zero, 1))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !ip.IsUnspecified() {
		t.Fatalf("ip should be unspecified, got %s", ip)
	}

	if _, _, err := decodePeersField("not base64!"); err == nil {
		t.Fatal("garbage should not decode")
	}
	if _, _, err := decodePeersField("AAAA"); err == nil {
		t.Fatal("short field should not decode")
	}
}

// rawAnswer builds a packed response the way it would arrive off the wire.
func rawAnswer(t *testing.T, name string, txt []string) []byte {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeTXT)
	m.Response = true
	m.Answer = append(m.Answer, &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
		},
		Txt: txt,
	})

	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	return raw
}

func packedAnswer(t *testing.T, name string, txt []string) *dns.Msg {
	parsed := new(dns.Msg)
	if err := parsed.Unpack(rawAnswer(t, name, txt)); err != nil {
		t.Fatalf("err: %v", err)
	}
	return parsed
}

func TestParseAnswer(t *testing.T) {
	name := ServiceName([]byte("abcdefghijklmnopqrstuvwxyz012345"))
	peers := encodePeersField(net.ParseIP("10.0.0.9"), 7000)

	msg := packedAnswer(t, name, []string{"token=tok-1", "peers=" + peers})

	ip, port, token, ok := parseAnswer(msg)
	if !ok {
		t.Fatal("answer should parse")
	}
	if token != "tok-1" {
		t.Fatalf("token should be tok-1, got %s", token)
	}
	if !ip.Equal(net.ParseIP("10.0.0.9")) || port != 7000 {
		t.Fatalf("addr should be 10.0.0.9:7000, got %s:%d", ip, port)
	}

	// Both fields are required.
	if _, _, _, ok := parseAnswer(packedAnswer(t, name, []string{"token=tok-1"})); ok {
		t.Fatal("answer without peers should not parse")
	}
	if _, _, _, ok := parseAnswer(packedAnswer(t, name, []string{"peers=" + peers})); ok {
		t.Fatal("answer without token should not parse")
	}
}

func TestHandlePacketFiltersSelf(t *testing.T) {
	name := ServiceName([]byte("abcdefghijklmnopqrstuvwxyz012345"))

	d := &Discovery{
		name:   name,
		token:  "self-token",
		candCh: make(chan string, 4),
		logger: common.NewTestEntry(t),
	}

	peers := encodePeersField(net.ParseIP("10.0.0.9"), 7000)
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5353}

	// Our own answer comes back off the multicast group; the token filters
	// it out.
	d.handlePacket(rawAnswer(t, name, []string{"token=self-token", "peers=" + peers}), src)

	select {
	case addr := <-d.candCh:
		t.Fatalf("own answer should be filtered, got candidate %s", addr)
	default:
	}

	// Another member's answer yields a candidate.
	d.handlePacket(rawAnswer(t, name, []string{"token=other-token", "peers=" + peers}), src)

	select {
	case addr := <-d.candCh:
		if addr != "10.0.0.9:7000" {
			t.Fatalf("candidate should be 10.0.0.9:7000, got %s", addr)
		}
	default:
		t.Fatal("other member's answer should yield a candidate")
	}

	// A different channel's traffic is ignored entirely.
	d.handlePacket(rawAnswer(t,
		ServiceName([]byte("512345abcdefghijklmnopqrstuvwxyz")),
		[]string{"token=other-token", "peers=" + peers}), src)

	select {
	case addr := <-d.candCh:
		t.Fatalf("foreign channel answer should be ignored, got %s", addr)
	default:
	}
}

func TestHandlePacketSourceFallback(t *testing.T) {
	name := ServiceName([]byte("abcdefghijklmnopqrstuvwxyz012345"))

	d := &Discovery{
		name:   name,
		token:  "self-token",
		candCh: make(chan string, 4),
		logger: common.NewTestEntry(t),
	}

	// The advertised address is unspecified, so the packet source wins.
	peers := encodePeersField(net.IPv4zero, 7000)
	raw := rawAnswer(t, name, []string{"token=other-token", "peers=" + peers})

	d.handlePacket(raw, &net.UDPAddr{IP: net.ParseIP("192.168.5.5"), Port: 5353})

	select {
	case addr := <-d.candCh:
		if addr != "192.168.5.5:7000" {
			t.Fatalf("candidate should be 192.168.5.5:7000, got %s", addr)
		}
	default:
		t.Fatal("answer should yield a candidate")
	}
}
