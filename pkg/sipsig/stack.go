package sipsig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/media_gateway/pkg/conference"
	"github.com/arzzra/media_gateway/pkg/mcu"
)

// Stack — SIP-стек шлюза. Каждому диалогу соответствует одна нога
// (leg), привязанная к участнику конференции; стек маршрутизирует
// входящие запросы по Call-ID и обслуживает таймер живости.
type Stack struct {
	cfg    Config
	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	contact  sip.ContactHeader
	localURI sip.Uri

	mu   sync.RWMutex
	legs map[string]*leg

	stop   chan struct{}
	logger *slog.Logger
}

// NewStack создает SIP-стек по конфигурации. Прослушивание начинается
// только после вызова Start.
func NewStack(cfg Config) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация SIP-стека: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания user agent: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания SIP-сервера: %w", err)
	}

	client, err := sipgo.NewClient(ua)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("ошибка создания SIP-клиента: %w", err)
	}

	localURI := sip.Uri{
		Scheme: "sip",
		User:   cfg.ContactUser,
		Host:   cfg.ContactHost,
		Port:   cfg.ContactPort,
	}

	s := &Stack{
		cfg:    cfg,
		ua:     ua,
		server: server,
		client: client,
		contact: sip.ContactHeader{
			Address: localURI,
		},
		localURI: localURI,
		legs:     make(map[string]*leg),
		stop:     make(chan struct{}),
		logger:   logger,
	}
	s.setupHandlers()
	return s, nil
}

func (s *Stack) setupHandlers() {
	s.server.OnInvite(s.handleInvite)
	s.server.OnAck(s.handleAck)
	s.server.OnCancel(s.handleCancel)
	s.server.OnBye(s.handleBye)
	s.server.OnInfo(s.handleInfo)
}

// Start запускает прослушивание транспорта и цикл проверки живости.
// Ошибка прослушивания логируется; ctx останавливает сервер.
func (s *Stack) Start(ctx context.Context) {
	go func() {
		if err := s.server.ListenAndServe(ctx, s.cfg.Transport, s.cfg.ListenAddr); err != nil {
			s.logger.Error("SIP-сервер завершился с ошибкой",
				"transport", s.cfg.Transport,
				"addr", s.cfg.ListenAddr,
				"error", err)
		}
	}()
	go s.livenessLoop()
}

// Close останавливает стек. Активные ноги не завершаются: их жизненным
// циклом владеют конференции.
func (s *Stack) Close() {
	close(s.stop)
	if err := s.server.Close(); err != nil {
		s.logger.Error("ошибка остановки SIP-сервера", "error", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Error("ошибка остановки SIP-клиента", "error", err)
	}
}

// Call создает исходящую ногу к target и участника в конференции conf,
// затем инициирует setup. Участник переходит в CONNECTING до получения
// финального ответа.
func (s *Stack) Call(conf *conference.Conference, name string, target sip.Uri, mosaicID, sidebarID int) (*conference.RTPParticipant, error) {
	l := &leg{
		stack:    s,
		callID:   uuid.NewString(),
		localTag: generateTag(),
		isUAC:    true,
		target:   target,
	}
	l.touch()

	part, err := conf.NewParticipant(name, l, mosaicID, sidebarID)
	if err != nil {
		return nil, err
	}
	l.part = part
	s.addLeg(l)

	if err := part.Dial(); err != nil {
		// Участник уже разрушен и нога снята с маршрутизации.
		s.removeLeg(l.callID)
		return nil, err
	}
	return part, nil
}

func (s *Stack) addLeg(l *leg) {
	s.mu.Lock()
	s.legs[l.callID] = l
	s.mu.Unlock()
}

func (s *Stack) removeLeg(callID string) {
	s.mu.Lock()
	delete(s.legs, callID)
	s.mu.Unlock()
}

func (s *Stack) leg(callID string) (*leg, bool) {
	s.mu.RLock()
	l, ok := s.legs[callID]
	s.mu.RUnlock()
	return l, ok
}

func (s *Stack) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if _, ok := s.leg(callID); ok {
		// Пересогласование внутри диалога не поддерживается.
		s.respond(req, tx, 491, "Request Pending")
		return
	}

	conf, ok := s.cfg.Router(req.Recipient)
	if !ok {
		s.logger.Info("входящий вызов не сопоставлен ни одной конференции",
			"uri", req.Recipient.String())
		s.respond(req, tx, sip.StatusNotFound, "Not Found")
		return
	}

	from := req.From()
	name := from.DisplayName
	if name == "" {
		name = from.Address.User
	}

	l := &leg{
		stack:     s,
		callID:    callID,
		localTag:  generateTag(),
		remoteTag: from.Params["tag"],
		invite:    req,
		inviteTx:  tx,
	}
	l.touch()

	part, err := conf.NewParticipant(name, l, mcu.DefaultMosaic, mcu.DefaultSidebar)
	if err != nil {
		s.logger.Error("ошибка создания участника для входящего вызова",
			"conference", conf.Name(),
			"name", name,
			"error", err)
		s.respond(req, tx, sip.StatusInternalServerError, "Server Internal Error")
		return
	}
	l.part = part
	s.addLeg(l)

	if err := part.OnSetupRequest(string(req.Body())); err != nil {
		// Отказ уже отправлен участником, нога разрушена.
		s.logger.Info("входящий вызов отклонен",
			"conference", conf.Name(),
			"name", name,
			"error", err)
	}
}

func (s *Stack) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	l, ok := s.leg(req.CallID().Value())
	if !ok {
		return
	}
	l.touch()
	l.part.OnAckRequest(string(req.Body()))
}

func (s *Stack) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	l, ok := s.leg(req.CallID().Value())
	if !ok {
		s.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	l.touch()
	s.respond(req, tx, sip.StatusOK, "OK")
	if err := l.respondInvite(sip.StatusRequestTerminated, "Request Terminated", ""); err != nil {
		s.logger.Debug("ошибка ответа 487 на отмененный INVITE",
			"call_id", l.callID,
			"error", err)
	}
	l.part.OnCancelRequest()
}

func (s *Stack) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	l, ok := s.leg(req.CallID().Value())
	if !ok {
		s.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	l.touch()
	s.respond(req, tx, sip.StatusOK, "OK")
	l.part.OnByeRequest()
}

func (s *Stack) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	l, ok := s.leg(req.CallID().Value())
	if !ok {
		s.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	l.touch()

	contentType := ""
	if h := req.GetHeader("Content-Type"); h != nil {
		contentType = h.Value()
	}
	if err := l.part.OnInfoRequest(contentType); err != nil {
		s.respond(req, tx, sip.StatusUnsupportedMediaType, "Unsupported Media Type")
		return
	}
	s.respond(req, tx, sip.StatusOK, "OK")
}

func (s *Stack) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		s.logger.Error("ошибка отправки ответа",
			"method", req.Method.String(),
			"code", code,
			"error", err)
	}
}

// livenessLoop периодически проверяет ноги без сигнального трафика.
// Для установленных ног участник сам решает судьбу по счетчикам
// пакетов микшера.
func (s *Stack) livenessLoop() {
	ticker := time.NewTicker(s.cfg.SessionExpiry)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			stale := make([]*leg, 0, len(s.legs))
			for _, l := range s.legs {
				if time.Since(l.lastActivity()) >= s.cfg.SessionExpiry {
					stale = append(stale, l)
				}
			}
			s.mu.RUnlock()
			for _, l := range stale {
				l.part.OnTimeout()
			}
		}
	}
}
