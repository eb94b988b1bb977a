package negotiation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/media_sdp"
)

const audioOnlyOffer = "v=0\r\n" +
	"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
	"s=call\r\n" +
	"c=IN IP4 203.0.113.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 4000 RTP/AVP 0 8\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n"

func newAudioEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine(Config{})
	engine.AddSupportedCodec(codecs.Audio, codecs.PCMA)
	engine.AddSupportedCodec(codecs.Audio, codecs.PCMU)
	return engine
}

func TestProcessOfferAudioOnly(t *testing.T) {
	engine := newAudioEngine(t)

	_, err := engine.ProcessOffer(audioOnlyOffer)
	require.NoError(t, err)

	assert.True(t, engine.MediaSupported(codecs.Audio))
	assert.False(t, engine.MediaSupported(codecs.Video))
	assert.False(t, engine.Secure())
	assert.False(t, engine.UseICE())

	// Приоритет локальных предпочтений выбирает PCMA, адрес и порт
	// фиксируются первым совпавшим payload
	send, ok := engine.Send(codecs.Audio)
	require.True(t, ok)
	assert.Equal(t, codecs.PCMA, send.Codec)
	assert.Equal(t, "203.0.113.5", send.IP)
	assert.Equal(t, 4000, send.Port)
}

func TestBuildAnswerAudioOnly(t *testing.T) {
	engine := newAudioEngine(t)

	_, err := engine.ProcessOffer(audioOnlyOffer)
	require.NoError(t, err)
	engine.CreateRTPMap(codecs.Audio)

	var ports codecs.MediaMap[int]
	ports.Set(codecs.Audio, 5000)
	answer := engine.BuildLocalDescription(BuildParams{
		SessionID: 7,
		Address:   "198.51.100.1",
		Ports:     ports,
	})

	require.Len(t, answer.MediaDescriptions, 1)
	md := answer.MediaDescriptions[0]
	assert.Equal(t, "audio", md.MediaName.Media)
	assert.Equal(t, 5000, md.MediaName.Port.Value)
	assert.Equal(t, []string{"RTP", "AVP"}, md.MediaName.Protos)

	// Форматы перечислены в порядке локальных предпочтений: PCMA первым
	require.Equal(t, []string{"8", "0"}, md.MediaName.Formats)

	body, err := media_sdp.Serialize(answer)
	require.NoError(t, err)
	assert.Contains(t, body, "a=rtpmap:8 PCMA/8000")
	assert.Contains(t, body, "a=rtcp-mux")
	assert.NotContains(t, body, "a=crypto")
	assert.NotContains(t, body, "a=candidate")
}

func TestAnswerPreservesRejectedPositions(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=application 5100 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"m=video 4002 RTP/AVP 34\r\n"

	engine := newAudioEngine(t)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)
	engine.CreateRTPMap(codecs.Audio)

	var ports codecs.MediaMap[int]
	ports.Set(codecs.Audio, 5000)
	answer := engine.BuildLocalDescription(BuildParams{SessionID: 1, Address: "198.51.100.1", Ports: ports})

	// Ответ повторяет число и порядок линий оффера
	require.Len(t, answer.MediaDescriptions, 3)
	assert.Equal(t, "application", answer.MediaDescriptions[0].MediaName.Media)
	assert.Equal(t, 0, answer.MediaDescriptions[0].MediaName.Port.Value)
	assert.Equal(t, "audio", answer.MediaDescriptions[1].MediaName.Media)
	assert.Equal(t, 5000, answer.MediaDescriptions[1].MediaName.Port.Value)
	// Видео без локальных кодеков отвергается на своей позиции
	assert.Equal(t, "video", answer.MediaDescriptions[2].MediaName.Media)
	assert.Equal(t, 0, answer.MediaDescriptions[2].MediaName.Port.Value)
}

func TestSessionBandwidthHeadroom(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"b=TIAS:200000\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"

	engine := newAudioEngine(t)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	// 200000 бит/с -> 200 кбит/с, минус 64 резерва под аудио
	assert.Equal(t, 136, engine.VideoBitrate())
}

func TestMediaBandwidthWithoutHeadroom(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=video 4002 RTP/AVP 34\r\n" +
		"b=TIAS:384000\r\n"

	engine := NewEngine(Config{})
	engine.AddSupportedCodec(codecs.Video, codecs.H2631996)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	// Потолок уровня медиа берется как есть
	assert.Equal(t, 384, engine.VideoBitrate())
}

func TestNATAddressSubstitution(t *testing.T) {
	engine := NewEngine(Config{
		IsRemoteUnreachable: func(addr string) bool { return addr == "192.168.1.10" },
	})
	engine.AddSupportedCodec(codecs.Audio, codecs.PCMU)

	offer := strings.Replace(audioOnlyOffer, "c=IN IP4 203.0.113.5", "c=IN IP4 192.168.1.10", 1)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	send, ok := engine.Send(codecs.Audio)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0", send.IP)
	assert.Equal(t, 4000, send.Port)
}

func TestNoUsableMedia(t *testing.T) {
	engine := NewEngine(Config{})
	engine.AddSupportedCodec(codecs.Audio, codecs.OPUS)

	// Только несовместимые payload
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=application 5100 UDP/DTLS/SCTP webrtc-datachannel\r\n"

	_, err := engine.ProcessOffer(offer)
	assert.ErrorIs(t, err, ErrNoUsableMedia)
}

func TestProcessOfferParseError(t *testing.T) {
	engine := newAudioEngine(t)
	_, err := engine.ProcessOffer("not an sdp")
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestSecureOfferCollectsCrypto(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/SAVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:PS1uQCVeeCFCanVmcjkpPywjNWhcYD0mXXtxaVBR|2^20\r\n"

	engine := newAudioEngine(t)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	assert.True(t, engine.Secure())
	info, ok := engine.RemoteCrypto(codecs.Audio)
	require.True(t, ok)
	assert.Equal(t, "AES_CM_128_HMAC_SHA1_80", info.Suite)
	assert.Equal(t, "PS1uQCVeeCFCanVmcjkpPywjNWhcYD0mXXtxaVBR", info.Key)

	// Ответ защищенной ноги несет локальные SDES параметры и SAVP
	local := media_sdp.CryptoInfo{Suite: media_sdp.DefaultCryptoSuite, Key: "aGVsbG8gc3J0cCBrZXkgbWF0ZXJpYWwgaGVyZQ=="}
	engine.SetLocalCrypto(codecs.Audio, local)
	engine.CreateRTPMap(codecs.Audio)

	var ports codecs.MediaMap[int]
	ports.Set(codecs.Audio, 5000)
	answer := engine.BuildLocalDescription(BuildParams{SessionID: 1, Address: "198.51.100.1", Ports: ports})
	body, err := media_sdp.Serialize(answer)
	require.NoError(t, err)
	assert.Contains(t, body, "m=audio 5000 RTP/SAVP")
	assert.Contains(t, body, "a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:"+local.Key)
}

// Известное ограничение: флаг защищенности глобален для ноги — любая
// защищенная секция помечает всю ногу. Смешанный offer с защищенным и
// незащищенным медиа моделируется некорректно; тест фиксирует текущее
// поведение, а не желаемое.
func TestSecureFlagIsLegGlobal(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"m=video 4002 RTP/SAVP 34\r\n" +
		"a=rtpmap:34 H263/90000\r\n" +
		"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:PS1uQCVeeCFCanVmcjkpPywjNWhcYD0mXXtxaVBR|2^20\r\n"

	engine := newAudioEngine(t)
	engine.AddSupportedCodec(codecs.Video, codecs.H2631996)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	// Незащищенный audio тоже считается защищенным
	assert.True(t, engine.Secure())
}

func TestICEOfferAndAnswer(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"a=ice-ufrag:F7gI\r\n" +
		"a=ice-pwd:x9cml/YzichV2+XlhiMu8g\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"

	engine := newAudioEngine(t)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	assert.True(t, engine.UseICE())
	remote, ok := engine.RemoteICE(codecs.Audio)
	require.True(t, ok)
	assert.Equal(t, "F7gI", remote.Ufrag)

	engine.SetLocalICE(codecs.Audio, media_sdp.ICEInfo{Ufrag: "ABCD1234", Pwd: "0123456789abcdef01234567"})
	engine.CreateRTPMap(codecs.Audio)

	var ports codecs.MediaMap[int]
	ports.Set(codecs.Audio, 5000)
	answer := engine.BuildLocalDescription(BuildParams{SessionID: 1, Address: "198.51.100.1", Ports: ports})
	body, err := media_sdp.Serialize(answer)
	require.NoError(t, err)
	assert.Contains(t, body, "a=candidate:1 1 UDP 33554431 198.51.100.1 5000 typ host")
	assert.Contains(t, body, "a=candidate:1 2 UDP 33554430 198.51.100.1 5001 typ host")
	assert.Contains(t, body, "a=ice-lite")
	assert.Contains(t, body, "a=ice-ufrag:ABCD1234")
}

func TestH264MaxProfileSelection(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=video 4002 RTP/AVP 97 98\r\n" +
		"a=rtpmap:97 H264/90000\r\n" +
		"a=fmtp:97 profile-level-id=42801f\r\n" +
		"a=rtpmap:98 H264/90000\r\n" +
		"a=fmtp:98 profile-level-id=640028;packetization-mode=1\r\n"

	engine := NewEngine(Config{})
	engine.AddSupportedCodec(codecs.Video, codecs.H264)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	// Побеждает payload с максимальным profile-level-id
	outMap := engine.RTPOutMap(codecs.Video)
	require.Len(t, outMap, 1)
	assert.Equal(t, codecs.H264, outMap[98])

	send, ok := engine.Send(codecs.Video)
	require.True(t, ok)
	assert.Equal(t, codecs.H264, send.Codec)
}

func TestContentSlidesRejected(t *testing.T) {
	offer := "v=0\r\n" +
		"o=caller 1 1 IN IP4 203.0.113.5\r\n" +
		"s=call\r\n" +
		"c=IN IP4 203.0.113.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"m=video 4002 RTP/AVP 34\r\n" +
		"a=content:slides\r\n"

	engine := newAudioEngine(t)
	engine.AddSupportedCodec(codecs.Video, codecs.H2631996)
	_, err := engine.ProcessOffer(offer)
	require.NoError(t, err)

	// Дополнительный видео поток не принимается
	assert.False(t, engine.MediaSupported(codecs.Video))
	assert.True(t, engine.MediaSupported(codecs.Audio))

	engine.CreateRTPMap(codecs.Audio)
	var ports codecs.MediaMap[int]
	ports.Set(codecs.Audio, 5000)
	answer := engine.BuildLocalDescription(BuildParams{SessionID: 1, Address: "198.51.100.1", Ports: ports})
	require.Len(t, answer.MediaDescriptions, 2)
	content, ok := answer.MediaDescriptions[1].Attribute("content")
	require.True(t, ok)
	assert.Equal(t, "slides", content)
}

func TestOfferModeUsesDefaultOrder(t *testing.T) {
	engine := newAudioEngine(t)
	engine.AddSupportedCodec(codecs.Video, codecs.H264)
	engine.SetMediaSupported(codecs.Audio, true)
	engine.SetMediaSupported(codecs.Video, true)
	engine.CreateRTPMap(codecs.Audio)
	engine.CreateRTPMap(codecs.Video)

	var ports codecs.MediaMap[int]
	ports.Set(codecs.Audio, 5000)
	ports.Set(codecs.Video, 5002)
	offer := engine.BuildLocalDescription(BuildParams{SessionID: 2, Address: "198.51.100.1", Ports: ports})

	require.Len(t, offer.MediaDescriptions, 2)
	assert.Equal(t, "audio", offer.MediaDescriptions[0].MediaName.Media)
	assert.Equal(t, "video", offer.MediaDescriptions[1].MediaName.Media)

	// В оффере H.264 объявляет профиль по умолчанию
	body, err := media_sdp.Serialize(offer)
	require.NoError(t, err)
	assert.Contains(t, body, "profile-level-id=428014")
}

func TestT140RedundancyLinkage(t *testing.T) {
	engine := NewEngine(Config{})
	engine.AddSupportedCodec(codecs.Text, codecs.T140RED)
	engine.AddSupportedCodec(codecs.Text, codecs.T140)
	engine.SetMediaSupported(codecs.Text, true)
	engine.CreateRTPMap(codecs.Text)

	var ports codecs.MediaMap[int]
	ports.Set(codecs.Text, 5004)
	offer := engine.BuildLocalDescription(BuildParams{SessionID: 3, Address: "198.51.100.1", Ports: ports})

	body, err := media_sdp.Serialize(offer)
	require.NoError(t, err)
	assert.Contains(t, body, "a=rtpmap:105 red/1000")
	assert.Contains(t, body, "a=fmtp:105 106/106/106")
}
