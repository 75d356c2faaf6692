package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSelf(t *testing.T) {
	entry := zeroconf.NewServiceEntry("node-a", ServiceName, "local.")
	entry.Text = TXTRecords("node-a")

	assert.True(t, IsSelf("node-a", entry))
	assert.False(t, IsSelf("node-b", entry))
}

func TestPeerAddrs(t *testing.T) {
	entry := zeroconf.NewServiceEntry("node-b", ServiceName, "local.")
	entry.Port = 9002
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.10")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	assert.Equal(t, []string{"192.168.1.10:9002", "[fe80::1]:9002"}, PeerAddrs(entry))
}

func TestPortOf(t *testing.T) {
	port, err := PortOf("127.0.0.1:9001")
	require.NoError(t, err)
	assert.Equal(t, 9001, port)

	_, err = PortOf("no-port")
	assert.Error(t, err)

	_, err = PortOf("127.0.0.1:abc")
	assert.Error(t, err)
}

func TestStopNil(t *testing.T) {
	var m *MDNS
	assert.NotPanics(t, m.Stop)
}
