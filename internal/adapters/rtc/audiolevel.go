package rtc

import (
	"math"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// audioLevelURI is the RFC 6464 client-to-mixer audio level extension.
const audioLevelURI = "urn:ietf:params:rtp-ext:ssrc-audio-level"

// audioLevelExtID is the id the extension negotiates to: it is the
// only extension we register, so it takes the first slot.
const audioLevelExtID = 1

// readAudioLevels pumps RTP from a remote audio track and reports the
// per-packet level to the media channel. The loop ends with the track;
// read errors are the normal teardown path.
func (t *Transport) readAudioLevels(track *webrtc.TrackRemote, media *mediaChannel) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if media.IsClosed() {
			return
		}
		if level, ok := packetAudioLevel(pkt); ok {
			media.fireAudioLevel(level)
		}
	}
}

// packetAudioLevel extracts the RFC 6464 level: one byte, MSB is the
// voice-activity flag, low 7 bits are -dBov (0 loudest, 127 silence).
// Returned as linear amplitude in [0,1].
func packetAudioLevel(pkt *rtp.Packet) (float64, bool) {
	ext := pkt.GetExtension(audioLevelExtID)
	if len(ext) == 0 {
		return 0, false
	}
	dBov := float64(ext[0] & 0x7f)
	return math.Pow(10, -dBov/20), true
}
