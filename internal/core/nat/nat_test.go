package nat

import (
	"errors"
	"sync"
	"testing"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/lumos.ai-sub002/config"
)

type fakeGateway struct {
	mu      sync.Mutex
	fail    bool
	offset  int
	calls   []int
	removed []int
}

func (f *fakeGateway) GetExternalAddress() (*natpmp.GetExternalAddressResult, error) {
	return &natpmp.GetExternalAddressResult{ExternalIPAddress: [4]byte{203, 0, 113, 7}}, nil
}

func (f *fakeGateway) AddPortMapping(_ string, internal, requested, lifetime int) (*natpmp.AddPortMappingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lifetime == 0 {
		f.removed = append(f.removed, internal)
		return &natpmp.AddPortMappingResult{}, nil
	}
	if f.fail {
		return nil, errors.New("refused")
	}
	f.calls = append(f.calls, requested)
	return &natpmp.AddPortMappingResult{
		InternalPort:                 uint16(internal),
		MappedExternalPort:           uint16(internal + f.offset),
		PortMappingLifetimeInSeconds: uint32(lifetime),
	}, nil
}

func testNATConfig() config.NATConfig {
	cfg := config.DefaultNATConfig()
	cfg.EnablePortMap = true
	cfg.MappingLifetime = config.Duration(time.Hour)
	return cfg
}

func TestMapper_MapsTCPPorts(t *testing.T) {
	gw := &fakeGateway{offset: 1000}
	m := NewMapper(testNATConfig())
	m.client = gw

	err := m.Start([]ma.Multiaddr{
		ma.StringCast("/ip4/192.168.1.10/tcp/4001"),
		ma.StringCast("/ip4/192.168.1.10/tcp/4002/ws"),
		ma.StringCast("/ip4/192.168.1.10/udp/4003"),
	})
	require.NoError(t, err)

	addrs := m.ExternalAddrs()
	require.Len(t, addrs, 2)
	assert.Equal(t, "/ip4/203.0.113.7/tcp/5001", addrs[0].String())
	assert.Equal(t, "/ip4/203.0.113.7/tcp/5002/ws", addrs[1].String())

	require.NoError(t, m.Close())
	assert.ElementsMatch(t, []int{4001, 4002}, gw.removed)
	assert.Empty(t, m.ExternalAddrs())
}

func TestMapper_AllMappingsFail(t *testing.T) {
	m := NewMapper(testNATConfig())
	m.client = &fakeGateway{fail: true}

	err := m.Start([]ma.Multiaddr{ma.StringCast("/ip4/192.168.1.10/tcp/4001")})
	assert.ErrorIs(t, err, ErrMappingFailed)
	assert.Empty(t, m.ExternalAddrs())
}

func TestMapper_BadGatewayConfig(t *testing.T) {
	cfg := testNATConfig()
	cfg.Gateway = "not-an-ip"
	err := NewMapper(cfg).Start(nil)
	assert.ErrorIs(t, err, ErrNoGateway)
}

func TestMapper_NilIsSafe(t *testing.T) {
	var m *Mapper
	assert.Nil(t, m.ExternalAddrs())
}
