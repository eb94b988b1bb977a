// Package negotiation реализует движок SDP переговоров одной ноги.
//
// Движок потребляет удаленный offer/answer, сверяет его с локальными
// таблицами предпочтений кодеков и накапливает план провижининга:
// кодек и адрес отправки по каждому медиа, таблицы RTP типов, SDES и
// ICE параметры, потолок битрейта видео. Поверх накопленного состояния
// он строит локальный answer/offer.
//
// Один Engine обслуживает одну ногу и не разделяется между участниками.
package negotiation

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/media_sdp"
)

// Профиль H.264, который объявляется в оффере, когда удаленная сторона
// еще не прислала свой.
const h264DefaultProfileLevelID = "428014"

// SendParams — согласованные параметры отправки одного медиа.
type SendParams struct {
	IP    string
	Port  int
	Codec int
}

// Config настраивает движок переговоров одной ноги.
type Config struct {
	// IsRemoteUnreachable — предикат NAT политики микшера: адрес,
	// который микшер не сможет достичь, подменяется неопределенным.
	IsRemoteUnreachable func(addr string) bool

	Logger *slog.Logger
}

// Engine хранит состояние переговоров одной ноги.
type Engine struct {
	logger      *slog.Logger
	unreachable func(string) bool

	supported codecs.MediaMap[[]int]

	rtpIn  codecs.MediaMap[map[int]int]
	rtpOut codecs.MediaMap[map[int]int]

	mediaSupported codecs.MediaMap[bool]
	send           codecs.MediaMap[SendParams]

	localCrypto  codecs.MediaMap[media_sdp.CryptoInfo]
	remoteCrypto codecs.MediaMap[media_sdp.CryptoInfo]
	localICE     codecs.MediaMap[media_sdp.ICEInfo]
	remoteICE    codecs.MediaMap[media_sdp.ICEInfo]

	// Слоты ответа: порядок медиа удаленного оффера, чтобы ответ
	// сохранял позиции отвергнутых линий.
	slots []answerSlot

	secure       bool
	rtcpFeedback bool
	useICE       bool

	videoBitrate      int
	videoContent      string
	h264ProfileLevel  string
	h264Packetization int
}

// answerSlot описывает одну медиа линию будущего ответа: либо принятое
// медиа, либо заранее построенный отказ с портом 0.
type answerSlot struct {
	media    codecs.MediaType
	accepted bool
	rejected *sdp.MediaDescription
}

// NewEngine создает движок переговоров.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	unreachable := cfg.IsRemoteUnreachable
	if unreachable == nil {
		unreachable = func(string) bool { return false }
	}
	return &Engine{logger: logger, unreachable: unreachable}
}

// AddSupportedCodec добавляет кодек в конец списка предпочтений медиа.
// Порядок вызовов задает приоритет: раньше добавленный — приоритетнее.
func (e *Engine) AddSupportedCodec(media codecs.MediaType, codec int) {
	list, _ := e.supported.Get(media)
	e.supported.Set(media, append(list, codec))
}

// SupportedCodecs возвращает список предпочтений медиа.
func (e *Engine) SupportedCodecs(media codecs.MediaType) []int {
	list, _ := e.supported.Get(media)
	return list
}

// Secure сообщает, требует ли нога SRTP.
func (e *Engine) Secure() bool { return e.secure }

// RTCPFeedback сообщает, включен ли RTCP feedback для ноги.
func (e *Engine) RTCPFeedback() bool { return e.rtcpFeedback }

// UseICE сообщает, ведутся ли переговоры с ICE креденшелами.
func (e *Engine) UseICE() bool { return e.useICE }

// VideoBitrate возвращает потолок битрейта видео в кбит/с, 0 — без
// ограничения.
func (e *Engine) VideoBitrate() int { return e.videoBitrate }

// MediaSupported сообщает, принято ли медиа в последних переговорах.
func (e *Engine) MediaSupported(media codecs.MediaType) bool {
	ok, _ := e.mediaSupported.Get(media)
	return ok
}

// SetMediaSupported отмечает медиа как локально поддерживаемое. До
// первого ProcessOffer определяет состав исходящего оффера.
func (e *Engine) SetMediaSupported(media codecs.MediaType, supported bool) {
	e.mediaSupported.Set(media, supported)
}

// Send возвращает согласованные параметры отправки медиа.
func (e *Engine) Send(media codecs.MediaType) (SendParams, bool) {
	return e.send.Get(media)
}

// RemoteCrypto возвращает SDES параметры удаленной стороны.
func (e *Engine) RemoteCrypto(media codecs.MediaType) (media_sdp.CryptoInfo, bool) {
	return e.remoteCrypto.Get(media)
}

// LocalCrypto возвращает локальные SDES параметры.
func (e *Engine) LocalCrypto(media codecs.MediaType) (media_sdp.CryptoInfo, bool) {
	return e.localCrypto.Get(media)
}

// SetLocalCrypto регистрирует локальные SDES параметры медиа,
// сгенерированные при провижининге приема.
func (e *Engine) SetLocalCrypto(media codecs.MediaType, info media_sdp.CryptoInfo) {
	e.localCrypto.Set(media, info)
}

// RemoteICE возвращает ICE креденшелы удаленной стороны.
func (e *Engine) RemoteICE(media codecs.MediaType) (media_sdp.ICEInfo, bool) {
	return e.remoteICE.Get(media)
}

// LocalICE возвращает локальные ICE креденшелы.
func (e *Engine) LocalICE(media codecs.MediaType) (media_sdp.ICEInfo, bool) {
	return e.localICE.Get(media)
}

// SetLocalICE регистрирует локальные ICE креденшелы медиа.
func (e *Engine) SetLocalICE(media codecs.MediaType, info media_sdp.ICEInfo) {
	e.localICE.Set(media, info)
}

// RTPOutMap возвращает исходящую таблицу типов медиа:
// удаленный payload type -> кодек.
func (e *Engine) RTPOutMap(media codecs.MediaType) map[int]int {
	m, _ := e.rtpOut.Get(media)
	return m
}

// RTPInMap возвращает входящую таблицу типов медиа:
// локальный payload type -> кодек.
func (e *Engine) RTPInMap(media codecs.MediaType) map[int]int {
	m, _ := e.rtpIn.Get(media)
	return m
}

// ProcessOffer разбирает удаленное описание сессии и пересекает его с
// локальными возможностями. Возвращает разобранное описание; ошибка
// разбора или полное отсутствие пригодных медиа фатальны для ноги.
func (e *Engine) ProcessOffer(body string) (*sdp.SessionDescription, error) {
	desc, err := media_sdp.Parse(body)
	if err != nil {
		return nil, err
	}

	// Предыдущие переговоры сбрасываются целиком
	for _, media := range codecs.MediaTypes {
		e.mediaSupported.Set(media, false)
	}
	e.slots = nil
	e.videoBitrate = 0

	// Потолок битрейта сессионного уровня с резервом под аудио
	for _, band := range desc.Bandwidth {
		rate := int(band.Bandwidth)
		if strings.EqualFold(band.Type, "TIAS") {
			rate /= 1000
		}
		if rate >= 128 {
			rate -= 64
		}
		if e.videoBitrate == 0 || rate < e.videoBitrate {
			e.videoBitrate = rate
		}
	}

	// ICE креденшелы сессионного уровня наследуются медиа секциями
	sessionICE, haveSessionICE := media_sdp.ICECredentials(desc.Attributes)
	if haveSessionICE {
		e.useICE = true
	}

	for _, md := range desc.MediaDescriptions {
		e.processMedia(desc, md, sessionICE, haveSessionICE)
	}

	usable := false
	for _, media := range codecs.MediaTypes {
		if e.MediaSupported(media) {
			usable = true
		}
	}
	if !usable {
		return nil, ErrNoUsableMedia
	}
	return desc, nil
}

// rejectionStub строит медиа линию отказа: порт 0, исходный список
// форматов, без деталей переговоров.
func rejectionStub(md *sdp.MediaDescription, extra ...sdp.Attribute) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   md.MediaName.Media,
			Port:    sdp.RangedPort{Value: 0},
			Protos:  append([]string(nil), md.MediaName.Protos...),
			Formats: append([]string(nil), md.MediaName.Formats...),
		},
		Attributes: extra,
	}
}

func (e *Engine) processMedia(desc *sdp.SessionDescription, md *sdp.MediaDescription, sessionICE media_sdp.ICEInfo, haveSessionICE bool) {
	name := md.MediaName.Media
	port := md.MediaName.Port.Value
	protos := md.MediaName.Protos

	// Не RTP-семейство — отказ с сохранением позиции
	if len(protos) < 2 || protos[0] != "RTP" {
		e.slots = append(e.slots, answerSlot{rejected: rejectionStub(md)})
		return
	}

	// Потолок битрейта уровня медиа, без резерва под аудио
	mediaBitrate := media_sdp.MinBandwidthKbps(md.Bandwidth)

	media, known := codecs.MediaTypeForName(name)
	if !known {
		e.slots = append(e.slots, answerSlot{rejected: rejectionStub(md)})
		return
	}

	if media == codecs.Video {
		if content, ok := md.Attribute("content"); ok {
			if !strings.EqualFold(content, "main") {
				// Не основной видео поток (slides и т.п.)
				e.slots = append(e.slots, answerSlot{rejected: rejectionStub(md, sdp.NewAttribute("content", content))})
				return
			}
			e.videoContent = content
		}
		if mediaBitrate > 0 {
			e.videoBitrate = mediaBitrate
		}
	}

	if e.MediaSupported(media) {
		// Повторная линия уже принятого медиа
		e.slots = append(e.slots, answerSlot{rejected: rejectionStub(md)})
		return
	}
	e.mediaSupported.Set(media, true)
	e.slots = append(e.slots, answerSlot{media: media, accepted: true})

	outMap, ok := e.rtpOut.Get(media)
	if !ok {
		outMap = make(map[int]int)
		e.rtpOut.Set(media, outMap)
	}

	// Адрес медиа: c= внутри секции перекрывает сессионный уровень
	mediaIP := ""
	if addr := media_sdp.ConnectionAddress(desc, md); addr != "" {
		mediaIP = e.resolveAddress(addr)
	}

	// Профиль транспорта: S — SRTP, F — RTCP feedback.
	// Флаги глобальны для ноги: смешение защищенных и незащищенных
	// медиа в одном оффере не моделируется.
	profile := protos[1]
	if strings.HasPrefix(profile, "S") {
		e.secure = true
		if info, ok, err := media_sdp.MediaCrypto(md); err != nil {
			e.logger.Warn("некорректный crypto атрибут, медиа без SDES", "media", media.String(), "error", err)
		} else if ok {
			e.remoteCrypto.Set(media, info)
		}
	}
	if strings.HasSuffix(profile, "F") {
		e.rtcpFeedback = true
	}

	e.collectFormats(md, media, outMap)

	// ICE креденшелы: media-level перекрывает session-level
	mediaICE, haveMediaICE := sessionICE, haveSessionICE
	if info, ok := media_sdp.ICECredentials(md.Attributes); ok {
		e.useICE = true
		mediaICE, haveMediaICE = info, true
	}
	if haveMediaICE {
		e.remoteICE.Set(media, mediaICE)
	}

	e.selectSendCodec(md, media, outMap, mediaIP, port)
}

// collectFormats наполняет исходящую таблицу типов медиа из списка
// форматов и rtpmap атрибутов секции.
func (e *Engine) collectFormats(md *sdp.MediaDescription, media codecs.MediaType, outMap map[int]int) {
	rtpMaps := media_sdp.RTPMaps(md)

	h264Type := 0
	maxH264Profile := ""

	for _, fmtToken := range md.MediaName.Formats {
		payloadType, err := strconv.Atoi(fmtToken)
		if err != nil {
			// Нечисловые форматы, вроде '*' у application
			continue
		}

		if payloadType < codecs.DynamicTypeBase {
			// Статический тип отображается сам в себя
			outMap[payloadType] = payloadType
			continue
		}

		rtpMap, ok := rtpMaps[payloadType]
		if !ok {
			continue
		}
		codec, ok := codecs.CodecForName(media, rtpMap.Name)
		if !ok {
			continue
		}

		if codec == codecs.H264 {
			// Из всех H.264 типов выбирается максимальный
			// profile-level-id; равенство решается первым встреченным
			params, haveParams := media_sdp.FormatParameters(md, payloadType)
			profileLevel := h264ProfileLevelID(params)
			if haveParams && profileLevel != "" {
				if maxH264Profile == "" || hexGreater(profileLevel, maxH264Profile) {
					h264Type = payloadType
					maxH264Profile = profileLevel
					if strings.Contains(params, "packetization-mode=1") {
						e.h264Packetization = 1
					}
				}
			} else if maxH264Profile == "" && h264Type == 0 {
				h264Type = payloadType
			}
			continue
		}

		outMap[payloadType] = codec
	}

	if h264Type > 0 {
		e.h264ProfileLevel = maxH264Profile
		outMap[h264Type] = codecs.H264
	}
}

// selectSendCodec выбирает кодек отправки по приоритету локальных
// предпочтений. Первый совпавший payload в порядке оффера фиксирует
// адрес и порт отправки, независимо от того, какой кодек в итоге
// выиграет по приоритету.
func (e *Engine) selectSendCodec(md *sdp.MediaDescription, media codecs.MediaType, outMap map[int]int, mediaIP string, port int) {
	prefs, _ := e.supported.Get(media)

	bestIdx := -1
	params := SendParams{Codec: -1}

	for _, fmtToken := range md.MediaName.Formats {
		payloadType, err := strconv.Atoi(fmtToken)
		if err != nil {
			continue
		}
		codec, ok := outMap[payloadType]
		if !ok {
			continue
		}
		idx := indexOf(prefs, codec)
		if idx < 0 {
			continue
		}
		if bestIdx == -1 {
			params.IP = mediaIP
			params.Port = port
		}
		if bestIdx == -1 || idx < bestIdx {
			bestIdx = idx
			params.Codec = codec
		}
	}

	if bestIdx >= 0 {
		e.send.Set(media, params)
	}
}

// CreateRTPMap строит входящую таблицу типов медиа. Пока удаленная
// сторона не прислала свои отображения, динамика берется из локальных
// значений по умолчанию; после — наследуются известные отображения,
// ограниченные локально поддерживаемыми кодеками.
func (e *Engine) CreateRTPMap(media codecs.MediaType) {
	prefs, ok := e.supported.Get(media)
	if !ok {
		return
	}

	inMap := make(map[int]int)
	if outMap, ok := e.rtpOut.Get(media); ok {
		for payloadType, codec := range outMap {
			if indexOf(prefs, codec) >= 0 {
				inMap[payloadType] = codec
			}
		}
	} else {
		for _, codec := range prefs {
			inMap[codec] = codec
		}
	}
	e.rtpIn.Set(media, inMap)
}

func (e *Engine) resolveAddress(addr string) string {
	if e.unreachable(addr) {
		// За NAT, который микшер не достанет: подменяем
		// неопределенным адресом
		return "0.0.0.0"
	}
	return addr
}

func indexOf(list []int, value int) int {
	for i, item := range list {
		if item == value {
			return i
		}
	}
	return -1
}

// h264ProfileLevelID вырезает значение profile-level-id из fmtp строки.
func h264ProfileLevelID(params string) string {
	const key = "profile-level-id="
	idx := strings.Index(params, key)
	if idx < 0 {
		return ""
	}
	value := params[idx+len(key):]
	if end := strings.IndexByte(value, ';'); end >= 0 {
		value = value[:end]
	}
	return value
}

// hexGreater сравнивает два profile-level-id как hex числа.
func hexGreater(a, b string) bool {
	left, errA := strconv.ParseInt(a, 16, 64)
	right, errB := strconv.ParseInt(b, 16, 64)
	if errA != nil || errB != nil {
		return false
	}
	return left > right
}
