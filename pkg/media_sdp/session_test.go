package media_sdp

import (
	"encoding/base64"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOffer = "v=0\r\n" +
	"o=- 123 1 IN IP4 10.0.0.1\r\n" +
	"s=call\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"b=TIAS:200000\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:f00d\r\n" +
	"a=ice-pwd:cafecafecafecafecafeca\r\n" +
	"m=audio 5004 RTP/SAVP 0 8 96\r\n" +
	"a=rtpmap:96 opus/48000/2\r\n" +
	"a=fmtp:96 useinbandfec=1\r\n" +
	"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz|2^20\r\n" +
	"m=video 5006 RTP/SAVPF 97\r\n" +
	"c=IN IP4 192.168.0.5\r\n" +
	"b=TIAS:128000\r\n" +
	"b=AS:96\r\n" +
	"a=rtpmap:97 H264/90000\r\n" +
	"a=fmtp:97 profile-level-id=42801F;packetization-mode=1\r\n"

func TestParseSerializeRoundTrip(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	text, err := Serialize(desc)
	require.NoError(t, err)

	again, err := Parse(text)
	require.NoError(t, err)

	require.Len(t, again.MediaDescriptions, 2)
	assert.Equal(t, "audio", again.MediaDescriptions[0].MediaName.Media)
	assert.Equal(t, []string{"0", "8", "96"}, again.MediaDescriptions[0].MediaName.Formats)
	assert.Equal(t, "video", again.MediaDescriptions[1].MediaName.Media)
	assert.Equal(t, 5006, again.MediaDescriptions[1].MediaName.Port.Value)
}

func TestParseError(t *testing.T) {
	_, err := Parse("not an sdp")
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeParse))
}

func TestRTPMaps(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	maps := RTPMaps(desc.MediaDescriptions[0])
	require.Contains(t, maps, 96)
	assert.Equal(t, "opus", maps[96].Name)
	assert.Equal(t, 48000, maps[96].ClockRate)
}

func TestFormatParameters(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	params, ok := FormatParameters(desc.MediaDescriptions[1], 97)
	require.True(t, ok)
	assert.Equal(t, "profile-level-id=42801F;packetization-mode=1", params)

	_, ok = FormatParameters(desc.MediaDescriptions[1], 98)
	assert.False(t, ok)
}

func TestMediaCrypto(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	info, ok, err := MediaCrypto(desc.MediaDescriptions[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AES_CM_128_HMAC_SHA1_80", info.Suite)
	// lifetime после '|' отброшен
	assert.Equal(t, "WVNfX19zZW1jdGwgKCkgewkyMjA7fQp9CnVubGVz", info.Key)
}

func TestParseCryptoAttributeMalformed(t *testing.T) {
	_, err := ParseCryptoAttribute("1 AES_CM_128_HMAC_SHA1_80")
	require.Error(t, err)
	assert.True(t, IsSDPError(err, ErrorCodeMalformedAttribute))
}

func TestICECredentials(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	info, ok := ICECredentials(desc.Attributes)
	require.True(t, ok)
	assert.Equal(t, "f00d", info.Ufrag)
	assert.Equal(t, "cafecafecafecafecafeca", info.Pwd)

	_, ok = ICECredentials(desc.MediaDescriptions[0].Attributes)
	assert.False(t, ok)
}

func TestMinBandwidthKbps(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	// TIAS:200000 бит/с -> 200 кбит/с
	assert.Equal(t, 200, MinBandwidthKbps(desc.Bandwidth))
	// min(TIAS:128000/1000, AS:96) = 96
	assert.Equal(t, 96, MinBandwidthKbps(desc.MediaDescriptions[1].Bandwidth))
	assert.Equal(t, 0, MinBandwidthKbps(nil))
}

func TestConnectionAddress(t *testing.T) {
	desc, err := Parse(testOffer)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", ConnectionAddress(desc, desc.MediaDescriptions[0]))
	// media-level c= перекрывает сессионный
	assert.Equal(t, "192.168.0.5", ConnectionAddress(desc, desc.MediaDescriptions[1]))
}

func TestGenerateCryptoInfo(t *testing.T) {
	info := GenerateCryptoInfo()
	assert.Equal(t, DefaultCryptoSuite, info.Suite)

	raw, err := base64.StdEncoding.DecodeString(info.Key)
	require.NoError(t, err)
	assert.Len(t, raw, 30)

	other := GenerateCryptoInfo()
	assert.NotEqual(t, info.Key, other.Key)
}

func TestGenerateICEInfo(t *testing.T) {
	info := GenerateICEInfo()
	assert.Len(t, info.Ufrag, 16)
	assert.Len(t, info.Pwd, 44)
	assert.NotEqual(t, info, GenerateICEInfo())
}

func TestHostCandidateValue(t *testing.T) {
	value := HostCandidateValue("1", 1, 33554431, "10.0.0.1", 5004)
	assert.Equal(t, "1 1 UDP 33554431 10.0.0.1 5004 typ host", value)
}

func TestCryptoAttributeValue(t *testing.T) {
	info := CryptoInfo{Suite: DefaultCryptoSuite, Key: "abc"}
	assert.Equal(t, "1 AES_CM_128_HMAC_SHA1_80 inline:abc", CryptoAttributeValue(1, info))
}

func TestSerializeBuiltDescription(t *testing.T) {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "10.0.0.2",
		},
		SessionName: "MediaMixerSession",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "10.0.0.2"},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0"},
				},
			},
		},
	}

	text, err := Serialize(desc)
	require.NoError(t, err)

	again, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, again.MediaDescriptions, 1)
	assert.Equal(t, 0, again.MediaDescriptions[0].MediaName.Port.Value)
}
