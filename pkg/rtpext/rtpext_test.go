package rtpext

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"
)

func sessionWithExtmap(id int, uri string) *sdp.SessionDescription {
	return &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			{
				Attributes: []sdp.Attribute{
					{Key: sdp.AttrKeyExtMap, Value: "1 urn:ietf:params:rtp-hdrext:sdes:mid"},
					{Key: sdp.AttrKeyExtMap, Value: itoaSpaceURI(id, uri)},
				},
			},
		},
	}
}

func itoaSpaceURI(id int, uri string) string {
	digits := []byte{byte('0' + id)}
	return string(digits) + " " + uri
}

func TestResolveSessionDescription(t *testing.T) {
	sd := sessionWithExtmap(3, sdp.TransportCCURI)
	m, err := ResolveSessionDescription(sd)
	require.NoError(t, err)

	id, err := m.TransportWideCCID()
	require.NoError(t, err)
	require.Equal(t, uint8(3), id)
}

func TestResolveSessionDescriptionMissing(t *testing.T) {
	sd := sessionWithExtmap(1, sdp.SDESMidURI)
	m, err := ResolveSessionDescription(sd)
	require.NoError(t, err)

	_, err = m.TransportWideCCID()
	require.ErrorIs(t, err, ErrNotNegotiated)
}

func TestTransportWideCCSequenceNumber(t *testing.T) {
	pkt := &rtp.Packet{}
	require.NoError(t, pkt.SetExtension(5, []byte{0x01, 0x02}))

	sn, ok := TransportWideCCSequenceNumber(pkt, 5)
	require.True(t, ok)
	require.Equal(t, uint16(0x0102), sn)
}

func TestTransportWideCCSequenceNumberMissing(t *testing.T) {
	pkt := &rtp.Packet{}
	_, ok := TransportWideCCSequenceNumber(pkt, 5)
	require.False(t, ok)
}
