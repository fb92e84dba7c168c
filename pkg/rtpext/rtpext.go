// Package rtpext resolves RTP header extension IDs negotiated over SDP,
// in particular the transport-wide congestion control sequence number
// extension consumed by pkg/twcc.
package rtpext

import (
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// ErrNotNegotiated is returned when a caller asks for an extension ID
// that was never advertised in the session description.
var ErrNotNegotiated = errors.New("rtpext: extension not negotiated")

// Map is a resolved extmap: URI to the negotiated one-byte header
// extension ID, merged across all media sections (where a URI appears in
// several sections, the last one read wins).
type Map struct {
	byURI map[string]uint8
}

// ResolveSessionDescription scans every "a=extmap" attribute across all
// media sections of sd and returns the URI-to-ID mapping. Extensions
// registered with pkg/sfu/mediaengine.go-equivalent codec setup
// (github.com/pion/webrtc/v3's MediaEngine) surface here identically,
// since both read the same SDP attribute.
func ResolveSessionDescription(sd *sdp.SessionDescription) (*Map, error) {
	m := &Map{byURI: make(map[string]uint8)}

	for _, media := range sd.MediaDescriptions {
		for _, attr := range media.Attributes {
			if attr.Key != sdp.AttrKeyExtMap {
				continue
			}
			var em sdp.ExtMap
			if err := em.Unmarshal(attr.Key + ":" + attr.Value); err != nil {
				return nil, errors.Wrap(err, "rtpext: parse extmap")
			}
			if em.URI == nil {
				continue
			}
			m.byURI[em.URI.String()] = uint8(em.Value)
		}
	}
	return m, nil
}

// ID looks up the negotiated header extension ID for uri.
func (m *Map) ID(uri string) (uint8, error) {
	id, ok := m.byURI[uri]
	if !ok {
		return 0, ErrNotNegotiated
	}
	return id, nil
}

// TransportWideCCID looks up the negotiated ID for
// draft-holmer-rmcat-transport-wide-cc-extensions' sequence number
// extension.
func (m *Map) TransportWideCCID() (uint8, error) {
	return m.ID(sdp.TransportCCURI)
}

// RegisterOn registers each of uris as a header extension for codecType
// on a webrtc.MediaEngine, so a PeerConnection built from it offers and
// accepts those extensions.
func RegisterOn(me *webrtc.MediaEngine, codecType webrtc.RTPCodecType, uris ...string) error {
	for _, uri := range uris {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: uri}, codecType); err != nil {
			return errors.Wrapf(err, "rtpext: register %s", uri)
		}
	}
	return nil
}

// TransportWideCCSequenceNumber reads the transport-wide sequence number
// carried in pkt's one-byte header extension registered at id, per
// draft-holmer-rmcat-transport-wide-cc-extensions-01 §2.1.
func TransportWideCCSequenceNumber(pkt *rtp.Packet, id uint8) (uint16, bool) {
	ext := pkt.GetExtension(id)
	if len(ext) < 2 {
		return 0, false
	}
	return uint16(ext[0])<<8 | uint16(ext[1]), true
}
