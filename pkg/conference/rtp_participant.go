package conference

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/mcu"
	"github.com/arzzra/media_gateway/pkg/media_sdp"
	"github.com/arzzra/media_gateway/pkg/negotiation"
)

// FPUContentType — тип содержимого внутридиалогового запроса
// обновления ключевого кадра.
const FPUContentType = "application/media_control+xml"

const mediaControlXML = "<?xml version=\"1.0\" encoding=\"utf-8\" ?>\r\n" +
	"<media_control>\r\n<vc_primitive>\r\n<to_encoder>\r\n" +
	"<picture_fast_update></picture_fast_update>\r\n" +
	"</to_encoder>\r\n</vc_primitive>\r\n</media_control>\r\n"

// RTPParticipant — сессия RTP ноги участника конференции.
//
// Все операции сериализуются мьютексом: два перехода одного участника
// не выполняются одновременно, проверки живости безопасны на фоне
// текущего перехода. Сессии разных участников полностью независимы.
type RTPParticipant struct {
	mu sync.Mutex

	id        int
	name      string
	sessionID string

	conf      *Conference
	signaling Signaling
	engine    *negotiation.Engine
	profile   Profile

	machine *fsm.FSM
	// Состояние дублируется атомиком: слушатели и внешние читатели
	// видят его без захвата мьютекса операций
	state     atomic.Int32
	listeners []StateChangeHandler

	autoAccept bool
	destroyed  bool

	muted      codecs.MediaMap[bool]
	sending    codecs.MediaMap[bool]
	recPorts   codecs.MediaMap[int]
	recAddress string

	mosaicID  int
	sidebarID int

	// Накопленный счетчик принятых пакетов для проверки живости
	totalPackets int
	stats        map[string]mcu.MediaStatistics

	logger *slog.Logger
}

func newRTPParticipant(id int, name string, mosaicID, sidebarID int, conf *Conference, signaling Signaling) *RTPParticipant {
	logger := conf.logger.With("participant", id)
	p := &RTPParticipant{
		id:        id,
		name:      name,
		sessionID: uuid.NewString(),
		conf:      conf,
		signaling: signaling,
		profile:   conf.Profile(),
		mosaicID:  mosaicID,
		sidebarID: sidebarID,
		logger:    logger,
	}
	p.engine = negotiation.NewEngine(negotiation.Config{
		IsRemoteUnreachable: conf.IsRemoteUnreachable,
		Logger:              logger,
	})
	// До первых переговоров все медиа считаются поддерживаемыми;
	// входящий offer пересчитает флаги
	for _, media := range codecs.MediaTypes {
		p.engine.SetMediaSupported(media, true)
	}
	p.machine = newStateMachine(p.notifyListeners)
	return p
}

// ID возвращает идентификатор участника на микшере.
func (p *RTPParticipant) ID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// SessionID возвращает идентификатор сигнальной сессии.
func (p *RTPParticipant) SessionID() string { return p.sessionID }

// Name возвращает отображаемое имя участника.
func (p *RTPParticipant) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// State возвращает текущее состояние сессии. Безопасен для вызова из
// обработчиков смены состояния: до завершения фан-аута возвращает
// уходящее состояние.
func (p *RTPParticipant) State() State {
	return p.currentState()
}

func (p *RTPParticipant) currentState() State {
	return State(p.state.Load())
}

// MosaicID возвращает мозаику участника.
func (p *RTPParticipant) MosaicID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mosaicID
}

// SidebarID возвращает сайдбар участника.
func (p *RTPParticipant) SidebarID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sidebarID
}

// AddListener регистрирует обработчик смены состояния. Обработчики
// вызываются синхронно в порядке регистрации до обновления состояния.
func (p *RTPParticipant) AddListener(handler StateChangeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, handler)
}

// SetAutoAccept включает немедленный прием входящих setup запросов.
func (p *RTPParticipant) SetAutoAccept(autoAccept bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoAccept = autoAccept
}

// AddSupportedCodec добавляет кодек в список предпочтений медиа.
func (p *RTPParticipant) AddSupportedCodec(media codecs.MediaType, codec int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.AddSupportedCodec(media, codec)
}

// Muted сообщает, заглушено ли медиа участника.
func (p *RTPParticipant) Muted(media codecs.MediaType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	muted, _ := p.muted.Get(media)
	return muted
}

// SetMuted заглушает или расглушает медиа участника. Ошибка RPC
// логируется, локальный флаг при этом не меняется.
func (p *RTPParticipant) SetMuted(media codecs.MediaType, muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conf.Controller().SetMute(p.conf.ID(), p.id, media, muted); err != nil {
		p.logger.Error("не удалось изменить mute", "media", media.String(), "error", err)
		return
	}
	p.muted.Set(media, muted)
}

// notifyListeners вызывается автоматом до смены состояния: слушатели
// видят уходящий переход.
func (p *RTPParticipant) notifyListeners(next State) {
	for _, handler := range p.listeners {
		handler(p, next)
	}
}

func (p *RTPParticipant) setState(target State) {
	if !transition(p.machine, target, p.logger) {
		return
	}
	observeTransition(p.currentState(), target)
	p.state.Store(int32(target))
	p.logger.Debug("смена состояния", "state", target.String())
}

// errorLocked переводит сессию в отказное состояние и уничтожает ее.
func (p *RTPParticipant) errorLocked(state State, reason string) {
	p.logger.Warn("нога завершается с ошибкой", "state", state.String(), "reason", reason)
	p.setState(state)
	p.destroyLocked()
}

// OnSetupRequest обрабатывает входящий setup запрос с удаленным SDP.
func (p *RTPParticipant) OnSetupRequest(body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if body != "" {
		if _, err := p.engine.ProcessOffer(body); err != nil {
			observeNegotiationFailure()
			if sendErr := p.signaling.SendReject(488, "Not Acceptable Here"); sendErr != nil {
				p.logger.Error("не удалось отклонить setup", "error", sendErr)
			}
			p.errorLocked(StateError, "переговоры не удались")
			return err
		}
	}

	if err := p.signaling.SendRinging(); err != nil {
		p.errorLocked(StateError, "не удалось отправить предварительный ответ")
		return err
	}
	p.setState(StateWaitingAccept)

	if p.autoAccept {
		return p.acceptLocked()
	}
	return nil
}

// Accept принимает входящую ногу: провижинит прием и отправляет
// локальный answer. Вне WAITING_ACCEPT возвращает ошибку без смены
// состояния.
func (p *RTPParticipant) Accept() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acceptLocked()
}

func (p *RTPParticipant) acceptLocked() error {
	if p.currentState() != StateWaitingAccept {
		p.logger.Warn("accept вне WAITING_ACCEPT", "state", p.currentState().String())
		return &InvalidStateError{Operation: "accept", State: p.currentState()}
	}

	body, err := p.provisionReception()
	if err != nil {
		if sendErr := p.signaling.SendReject(500, "Server Internal Error"); sendErr != nil {
			p.logger.Error("не удалось отклонить setup", "error", sendErr)
		}
		p.errorLocked(StateError, "провижининг приема не удался")
		return err
	}

	if err := p.signaling.SendAccept(body); err != nil {
		p.errorLocked(StateError, "не удалось отправить answer")
		return err
	}
	// Остаемся в WAITING_ACCEPT до подтверждения удаленной стороны
	return nil
}

// Reject отклоняет входящую ногу финальным ответом. Вне WAITING_ACCEPT
// возвращает ошибку без смены состояния.
func (p *RTPParticipant) Reject(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentState() != StateWaitingAccept {
		p.logger.Warn("reject вне WAITING_ACCEPT", "state", p.currentState().String())
		return &InvalidStateError{Operation: "reject", State: p.currentState()}
	}

	if err := p.signaling.SendReject(code, reason); err != nil {
		p.errorLocked(StateError, "не удалось отправить отказ")
		return err
	}
	p.errorLocked(StateDeclined, reason)
	return nil
}

// Dial начинает исходящую ногу: провижинит прием и отправляет setup с
// локальным оффером.
func (p *RTPParticipant) Dial() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentState() != StateCreated {
		return &InvalidStateError{Operation: "dial", State: p.currentState()}
	}

	body, err := p.provisionReception()
	if err != nil {
		p.errorLocked(StateError, "провижининг приема не удался")
		return err
	}
	if err := p.signaling.SendSetup(body); err != nil {
		p.errorLocked(StateError, "не удалось отправить setup")
		return err
	}
	p.setState(StateConnecting)
	return nil
}

// OnSetupResponse обрабатывает финальный ответ на исходящий setup.
func (p *RTPParticipant) OnSetupResponse(code int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentState() != StateConnecting {
		p.logger.Warn("ответ на setup вне CONNECTING", "code", code, "state", p.currentState().String())
		return
	}
	if code < 200 {
		return
	}

	if code < 300 {
		if _, err := p.engine.ProcessOffer(body); err != nil {
			observeNegotiationFailure()
			p.errorLocked(StateError, "answer не разобран")
			return
		}
		if err := p.signaling.SendAck(); err != nil {
			p.errorLocked(StateError, "не удалось подтвердить ответ")
			return
		}
		// Состояние до подключения к конференции
		p.setState(StateConnected)
		if err := p.conf.JoinParticipant(p.id, p.mosaicID, p.sidebarID); err != nil {
			p.logger.Error("не удалось подключить участника к композиции", "error", err)
		}
		if err := p.provisionSending(); err != nil {
			p.errorLocked(StateError, "провижининг отправки не удался")
		}
		return
	}

	if code < 400 {
		// Редиректы не обрабатываются, нога остается в CONNECTING
		p.logger.Warn("редирект-ответ игнорируется", "code", code)
		return
	}
	p.errorLocked(stateForStatusCode(code), fmt.Sprintf("финальный ответ %d", code))
}

// stateForStatusCode отображает код финального ответа сигнализации в
// отказное состояние.
func stateForStatusCode(code int) State {
	switch code {
	case 404:
		return StateNotFound
	case 486:
		return StateBusy
	case 603:
		return StateDeclined
	case 408, 480, 487:
		return StateTimeout
	default:
		return StateError
	}
}

// OnAckRequest обрабатывает подтверждение локального answer.
func (p *RTPParticipant) OnAckRequest(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if body != "" {
		if _, err := p.engine.ProcessOffer(body); err != nil {
			observeNegotiationFailure()
			p.errorLocked(StateError, "тело подтверждения не разобрано")
			return
		}
	}
	// Состояние до подключения к конференции
	p.setState(StateConnected)
	if err := p.conf.JoinParticipant(p.id, p.mosaicID, p.sidebarID); err != nil {
		p.logger.Error("не удалось подключить участника к композиции", "error", err)
	}
	if err := p.provisionSending(); err != nil {
		p.logger.Error("провижининг отправки не удался", "error", err)
	}
}

// OnCancelRequest обрабатывает отмену входящего setup удаленной
// стороной.
func (p *RTPParticipant) OnCancelRequest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setState(StateDisconnected)
	p.destroyLocked()
}

// OnByeRequest обрабатывает завершение ноги удаленной стороной.
func (p *RTPParticipant) OnByeRequest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setState(StateDisconnected)
	p.destroyLocked()
}

// OnInfoRequest обрабатывает внутридиалоговый информационный запрос.
// Поддерживается только запрос обновления ключевого кадра.
func (p *RTPParticipant) OnInfoRequest(contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if contentType != FPUContentType {
		return fmt.Errorf("неподдерживаемый тип содержимого %q", contentType)
	}
	p.sendFPULocked()
	return nil
}

// OnTimeout — периодическая проверка живости. В CONNECTED сравнивает
// накопленный счетчик принятых пакетов с прошлой выборкой; в
// CONNECTING отменяет затянувшийся setup; в остальных состояниях
// уничтожает сессию.
func (p *RTPParticipant) OnTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.currentState() {
	case StateConnected:
		stats, err := p.conf.ParticipantStats(p.id)
		if err != nil {
			p.logger.Warn("не удалось получить статистику", "error", err)
			return
		}
		p.stats = stats
		total := 0
		for _, s := range stats {
			total += s.NumRecvPackets
		}
		if total != p.totalPackets {
			p.totalPackets = total
			return
		}
		p.errorLocked(StateTimeout, "нет входящих пакетов")
	case StateConnecting:
		p.cancelLocked(true)
	default:
		p.destroyLocked()
	}
}

// Statistics возвращает последнюю выборку статистики медиа потоков.
func (p *RTPParticipant) Statistics() map[string]mcu.MediaStatistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// End корректно завершает ногу в любом состоянии.
func (p *RTPParticipant) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLocked()
}

func (p *RTPParticipant) endLocked() {
	p.logger.Info("завершение ноги", "state", p.currentState().String())
	switch p.currentState() {
	case StateConnecting:
		p.cancelLocked(false)
	case StateConnected:
		p.byeLocked()
	default:
		p.destroyLocked()
	}
}

func (p *RTPParticipant) cancelLocked(timedOut bool) {
	if err := p.signaling.SendCancel(); err != nil {
		p.logger.Error("не удалось отменить setup", "error", err)
	}
	if timedOut {
		p.setState(StateTimeout)
	} else {
		p.setState(StateDisconnected)
	}
	p.destroyLocked()
}

func (p *RTPParticipant) byeLocked() {
	if err := p.signaling.SendBye(); err != nil {
		p.logger.Error("не удалось завершить ногу", "error", err)
	}
	p.setState(StateDisconnected)
	p.destroyLocked()
}

// Destroy — идемпотентное терминальное действие: best-effort удаление
// сущности микшера, освобождение сигнализации, состояние DESTROYED.
func (p *RTPParticipant) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyLocked()
}

func (p *RTPParticipant) destroyLocked() {
	if p.destroyed {
		return
	}
	p.destroyed = true

	// Удаление на микшере best-effort и ровно один раз
	if err := p.conf.Controller().DeleteParticipant(p.conf.ID(), p.id); err != nil {
		p.logger.Error("не удалось удалить участника на микшере", "error", err)
	}
	p.signaling.Close()
	p.setState(StateDestroyed)
}

// Restart пересоздает сущность участника после рестарта медиа сервера
// и заново провижинит медиа, если нога уже вела переговоры.
func (p *RTPParticipant) Restart() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.conf.Controller().CreateParticipant(p.conf.ID(),
		strings.ReplaceAll(p.name, ".", "_"), mcu.LegRTP, p.mosaicID, p.sidebarID)
	if err != nil {
		p.logger.Error("не удалось пересоздать участника", "error", err)
		p.endLocked()
		return
	}
	p.id = id

	if p.currentState() == StateCreated {
		return
	}
	if err := p.startSending(); err != nil {
		p.logger.Error("не удалось восстановить отправку", "error", err)
	}
	if err := p.startReceiving(); err != nil {
		p.logger.Error("не удалось восстановить прием", "error", err)
	}
}

// SetVideoProfile меняет профиль исходящего видео. Если видео уже
// отправляется, оно переустанавливается с новым профилем.
func (p *RTPParticipant) SetVideoProfile(profile Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.profile = profile
	if sending, _ := p.sending.Get(codecs.Video); !sending {
		return nil
	}

	client := p.conf.Controller()
	confID := p.conf.ID()
	send, ok := p.engine.Send(codecs.Video)
	if !ok {
		return nil
	}
	if err := client.StopSending(confID, p.id, codecs.Video); err != nil {
		return err
	}
	if err := client.SetVideoCodec(confID, p.id, send.Codec, profile.VideoSize,
		profile.VideoFPS, p.cappedBitrate(), 0, 0, profile.IntraPeriod); err != nil {
		return err
	}
	return client.StartSending(confID, p.id, codecs.Video, send.IP, send.Port, p.engine.RTPOutMap(codecs.Video))
}

// VideoProfile возвращает текущий профиль видео.
func (p *RTPParticipant) VideoProfile() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// RequestFPU просит удаленную сторону обновить ключевой кадр через
// внутридиалоговое информационное сообщение.
func (p *RTPParticipant) RequestFPU() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.signaling.SendInfo(FPUContentType, mediaControlXML); err != nil {
		p.logger.Error("не удалось запросить обновление кадра", "error", err)
	}
}

// SendFPU просит микшер отправить участнику новый ключевой кадр.
func (p *RTPParticipant) SendFPU() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendFPULocked()
}

func (p *RTPParticipant) sendFPULocked() {
	if err := p.conf.Controller().SendFPU(p.conf.ID(), p.id); err != nil {
		p.logger.Error("не удалось отправить обновление кадра", "error", err)
	}
}

// provisionReception провижинит прием всех поддерживаемых медиа и
// строит локальное описание сессии.
func (p *RTPParticipant) provisionReception() (string, error) {
	if err := p.startReceiving(); err != nil {
		return "", err
	}
	return p.localDescription()
}

// startReceiving провижинит прием: таблицы типов, локальные SDES и ICE
// параметры, StartReceiving по каждому поддерживаемому медиа.
func (p *RTPParticipant) startReceiving() error {
	client := p.conf.Controller()
	confID := p.conf.ID()

	for _, media := range codecs.MediaTypes {
		if !p.engine.MediaSupported(media) || len(p.engine.SupportedCodecs(media)) == 0 {
			continue
		}
		p.engine.CreateRTPMap(media)

		if p.engine.Secure() {
			info := media_sdp.GenerateCryptoInfo()
			if err := client.SetLocalCryptoSDES(confID, p.id, media, info.Suite, info.Key); err != nil {
				return err
			}
			p.engine.SetLocalCrypto(media, info)
		}
		if p.engine.UseICE() {
			info := media_sdp.GenerateICEInfo()
			if err := client.SetLocalSTUNCredentials(confID, p.id, media, info.Ufrag, info.Pwd); err != nil {
				return err
			}
			p.engine.SetLocalICE(media, info)
		}

		port, err := client.StartReceiving(confID, p.id, media, p.engine.RTPInMap(media))
		if err != nil {
			return err
		}
		p.recPorts.Set(media, port)
	}

	p.recAddress = p.conf.RTPAddress()
	return nil
}

// provisionSending провижинит отправку каждого согласованного медиа:
// кодек, удаленные SDES/ICE параметры, StartSending.
func (p *RTPParticipant) provisionSending() error {
	client := p.conf.Controller()
	confID := p.conf.ID()

	for _, media := range codecs.MediaTypes {
		send, ok := p.engine.Send(media)
		if !ok || send.Port == 0 {
			continue
		}

		switch media {
		case codecs.Audio:
			if err := client.SetAudioCodec(confID, p.id, send.Codec); err != nil {
				return err
			}
		case codecs.Video:
			if err := client.SetVideoCodec(confID, p.id, send.Codec, p.profile.VideoSize,
				p.profile.VideoFPS, p.cappedBitrate(), 0, 0, p.profile.IntraPeriod); err != nil {
				return err
			}
		case codecs.Text:
			if err := client.SetTextCodec(confID, p.id, send.Codec); err != nil {
				return err
			}
		}

		if info, ok := p.engine.RemoteCrypto(media); ok {
			if err := client.SetRemoteCryptoSDES(confID, p.id, media, info.Suite, info.Key); err != nil {
				return err
			}
		}
		if info, ok := p.engine.RemoteICE(media); ok {
			if err := client.SetRemoteSTUNCredentials(confID, p.id, media, info.Ufrag, info.Pwd); err != nil {
				return err
			}
		}

		if err := client.StartSending(confID, p.id, media, send.IP, send.Port, p.engine.RTPOutMap(media)); err != nil {
			return err
		}
		p.sending.Set(media, true)
	}
	return nil
}

// startSending — повторный провижининг отправки при рестарте.
func (p *RTPParticipant) startSending() error {
	return p.provisionSending()
}

// cappedBitrate возвращает битрейт профиля, ограниченный потолком из
// переговоров.
func (p *RTPParticipant) cappedBitrate() int {
	bitrate := p.profile.VideoBitrate
	if max := p.engine.VideoBitrate(); max > 0 && max < bitrate {
		bitrate = max
	}
	return bitrate
}

// localDescription строит локальный SDP по текущему состоянию
// переговоров и выданным портам приема.
func (p *RTPParticipant) localDescription() (string, error) {
	address := p.recAddress
	if address == "" {
		address = p.conf.RTPAddress()
	}
	desc := p.engine.BuildLocalDescription(negotiation.BuildParams{
		SessionID: int64(p.id),
		Address:   address,
		Ports:     p.recPorts,
	})
	return media_sdp.Serialize(desc)
}
