package negotiation

import (
	"fmt"
	"sort"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/media_sdp"
)

// BuildParams задает локальные параметры для построения описания:
// идентификатор сессии, адрес приема и порты, выданные микшером.
type BuildParams struct {
	SessionID int64
	Address   string
	Ports     codecs.MediaMap[int]
}

// BuildLocalDescription строит локальный answer или offer.
//
// В режиме ответа (после ProcessOffer) медиа линии следуют порядку
// удаленного оффера: отвергнутые линии сохраняют свою позицию с портом
// 0. В режиме оффера поддерживаемые медиа идут в порядке
// audio/video/text.
func (e *Engine) BuildLocalDescription(params BuildParams) *sdp.SessionDescription {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(params.SessionID),
			SessionVersion: uint64(time.Now().Unix()),
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: params.Address,
		},
		SessionName: "MediaMixerSession",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: params.Address},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	if e.slots != nil {
		for _, slot := range e.slots {
			if slot.accepted {
				port, _ := params.Ports.Get(slot.media)
				desc.MediaDescriptions = append(desc.MediaDescriptions, e.buildMedia(slot.media, port, params.Address))
			} else {
				desc.MediaDescriptions = append(desc.MediaDescriptions, slot.rejected)
			}
		}
		return desc
	}

	for _, media := range codecs.MediaTypes {
		if !e.MediaSupported(media) {
			continue
		}
		port, _ := params.Ports.Get(media)
		desc.MediaDescriptions = append(desc.MediaDescriptions, e.buildMedia(media, port, params.Address))
	}
	return desc
}

// transportProto возвращает токены транспортного протокола ноги.
func (e *Engine) transportProto() []string {
	profile := "AVP"
	if e.secure {
		profile = "S" + profile
	}
	if e.rtcpFeedback {
		profile += "F"
	}
	return []string{"RTP", profile}
}

// disabledMedia строит выключенную медиа линию: порт 0 и никаких
// деталей переговоров.
func (e *Engine) disabledMedia(media codecs.MediaType) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  media.String(),
			Port:   sdp.RangedPort{Value: 0},
			Protos: e.transportProto(),
		},
	}
}

func (e *Engine) buildMedia(media codecs.MediaType, port int, addr string) *sdp.MediaDescription {
	inMap, ok := e.rtpIn.Get(media)
	if !ok {
		e.logger.Debug("нет входящей таблицы типов, медиа выключено", "media", media.String())
		return e.disabledMedia(media)
	}

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  media.String(),
			Port:   sdp.RangedPort{Value: port},
			Protos: e.transportProto(),
		},
	}
	md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute("rtcp-mux"))

	if e.useICE {
		// Host кандидаты для RTP и RTCP
		md.Attributes = append(md.Attributes,
			sdp.NewAttribute("candidate", media_sdp.HostCandidateValue("1", 1, 33554431, addr, port)),
			sdp.NewAttribute("candidate", media_sdp.HostCandidateValue("1", 2, 33554430, addr, port+1)),
		)
		if info, ok := e.localICE.Get(media); ok {
			md.Attributes = append(md.Attributes,
				sdp.NewPropertyAttribute("ice-lite"),
				sdp.NewAttribute("ice-ufrag", info.Ufrag),
				sdp.NewAttribute("ice-pwd", info.Pwd),
			)
		}
	}

	if info, ok := e.localCrypto.Get(media); ok {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("crypto", media_sdp.CryptoAttributeValue(1, info)))
	}

	// Payload types в порядке локальных предпочтений
	sortedTypes := make([]int, 0, len(inMap))
	for payloadType := range inMap {
		sortedTypes = append(sortedTypes, payloadType)
	}
	sort.Ints(sortedTypes)

	prefs, _ := e.supported.Get(media)
	for _, codec := range prefs {
		for _, payloadType := range sortedTypes {
			if inMap[payloadType] != codec {
				continue
			}
			md.MediaName.Formats = append(md.MediaName.Formats, fmt.Sprintf("%d", payloadType))
			md.Attributes = append(md.Attributes, sdp.NewAttribute("rtpmap",
				fmt.Sprintf("%d %s/%d", payloadType, codecs.NameForCodec(media, codec), codecs.RateForCodec(media, codec))))
			e.appendFormatAttributes(md, media, codec, payloadType, inMap)
		}
	}

	if media == codecs.Video && e.videoContent != "" {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("content", e.videoContent))
	}

	if len(md.MediaName.Formats) == 0 {
		e.logger.Debug("нет совместимых кодеков, медиа выключено", "media", media.String())
		return e.disabledMedia(media)
	}
	return md
}

// appendFormatAttributes добавляет fmtp атрибуты особых кодеков.
func (e *Engine) appendFormatAttributes(md *sdp.MediaDescription, media codecs.MediaType, codec, payloadType int, inMap map[int]int) {
	switch codec {
	case codecs.H264:
		profileLevel := e.h264ProfileLevel
		if profileLevel == "" {
			// Мы оффер: объявляем профиль по умолчанию
			profileLevel = h264DefaultProfileLevelID
			e.h264ProfileLevel = profileLevel
		}
		value := fmt.Sprintf("%d profile-level-id=%s", payloadType, profileLevel)
		if e.h264Packetization > 0 {
			value += fmt.Sprintf(";packetization-mode=%d", e.h264Packetization)
		}
		md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp", value))
	case codecs.H2631996:
		md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp",
			fmt.Sprintf("%d CIF=1;QCIF=1", payloadType)))
	case codecs.T140RED:
		// Избыточность ссылается на payload type основного t140
		if t140 := findTypeForCodec(inMap, codecs.T140); t140 > 0 {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp",
				fmt.Sprintf("%d %d/%d/%d", payloadType, t140, t140, t140)))
		}
	}
}

func findTypeForCodec(rtpMap map[int]int, codec int) int {
	best := -1
	for payloadType, mapped := range rtpMap {
		if mapped == codec && (best == -1 || payloadType < best) {
			best = payloadType
		}
	}
	return best
}
