// Package conference реализует управляющую плоскость конференции:
// жизненный цикл участников, их автоматы состояний и провижининг медиа
// через каталог микшера.
package conference

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/mcu"
)

// Config — параметры создания конференции.
type Config struct {
	// Tag — имя конференции на микшере
	Tag   string
	Mixer *Mixer

	VADMode      int
	MosaicLayout int
	MosaicSize   int
	Profile      Profile

	// Кодеки по умолчанию для новых участников, в порядке приоритета
	AudioCodecs []int
	VideoCodecs []int
	TextCodecs  []int

	// Controller перекрывает RPC клиент микшера, используется тестами
	Controller MediaController
	// RTPAddress перекрывает адрес приема RTP микшера
	RTPAddress string
	// IsRemoteUnreachable перекрывает NAT политику микшера
	IsRemoteUnreachable func(addr string) bool

	// QueueID — очередь событий микшера для этой конференции
	QueueID int

	Logger *slog.Logger
}

// Validate проверяет конфигурацию конференции.
func (c Config) Validate() error {
	if c.Tag == "" {
		return fmt.Errorf("не задано имя конференции")
	}
	if c.Mixer == nil && c.Controller == nil {
		return fmt.Errorf("не задан ни микшер, ни управляющий клиент")
	}
	if c.Mixer == nil && c.RTPAddress == "" {
		return fmt.Errorf("без микшера нужен явный RTP адрес")
	}
	return nil
}

// Conference — одна конференция на микшере и ее участники.
type Conference struct {
	mu sync.Mutex

	id   int
	name string

	mixer       *Mixer
	client      MediaController
	rtpAddress  string
	unreachable func(string) bool

	mosaicID  int
	sidebarID int
	profile   Profile

	audioCodecs []int
	videoCodecs []int
	textCodecs  []int

	// Реестр по идентификатору сигнальной сессии: он стабилен при
	// пересоздании сущности на микшере
	participants map[string]*RTPParticipant

	logger *slog.Logger
}

// NewConference создает конференцию на микшере.
func NewConference(cfg Config) (*Conference, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.Controller
	rtpAddress := cfg.RTPAddress
	unreachable := cfg.IsRemoteUnreachable
	if cfg.Mixer != nil {
		if client == nil {
			client = cfg.Mixer.Client()
		}
		if rtpAddress == "" {
			rtpAddress = cfg.Mixer.PublicAddress()
		}
		if unreachable == nil {
			unreachable = cfg.Mixer.IsNated
		}
	}
	if unreachable == nil {
		unreachable = func(string) bool { return false }
	}

	id, err := client.CreateConference(cfg.Tag, cfg.VADMode, cfg.QueueID)
	if err != nil {
		return nil, err
	}
	if cfg.MosaicLayout > 0 || cfg.MosaicSize > 0 {
		if err := client.SetCompositionType(id, mcu.DefaultMosaic, cfg.MosaicLayout, cfg.MosaicSize); err != nil {
			if derr := client.DeleteConference(id); derr != nil {
				logger.Error("не удалось удалить конференцию после ошибки композиции",
					"conference", cfg.Tag, "error", derr)
			}
			return nil, err
		}
	}

	conf := &Conference{
		id:           id,
		name:         cfg.Tag,
		mixer:        cfg.Mixer,
		client:       client,
		rtpAddress:   rtpAddress,
		unreachable:  unreachable,
		mosaicID:     mcu.DefaultMosaic,
		sidebarID:    mcu.DefaultSidebar,
		profile:      cfg.Profile,
		audioCodecs:  cfg.AudioCodecs,
		videoCodecs:  cfg.VideoCodecs,
		textCodecs:   cfg.TextCodecs,
		participants: make(map[string]*RTPParticipant),
		logger:       logger.With("conference", cfg.Tag),
	}
	if conf.profile == (Profile{}) {
		conf.profile = DefaultProfile()
	}
	conf.logger.Info("конференция создана", "id", id)
	return conf, nil
}

// ID возвращает идентификатор конференции на микшере.
func (c *Conference) ID() int { return c.id }

// Name возвращает имя конференции.
func (c *Conference) Name() string { return c.name }

// Profile возвращает профиль видео по умолчанию.
func (c *Conference) Profile() Profile { return c.profile }

// RTPAddress возвращает локальный адрес приема RTP.
func (c *Conference) RTPAddress() string { return c.rtpAddress }

// Controller возвращает общий управляющий клиент микшера.
func (c *Conference) Controller() MediaController { return c.client }

// IsRemoteUnreachable сообщает, недостижим ли адрес для микшера
// напрямую.
func (c *Conference) IsRemoteUnreachable(addr string) bool { return c.unreachable(addr) }

// NewParticipant создает участника на микшере и его локальную сессию.
// Сигнализация передается адаптером транспорта; mosaicID и sidebarID
// задают размещение в композиции.
func (c *Conference) NewParticipant(name string, signaling Signaling, mosaicID, sidebarID int) (*RTPParticipant, error) {
	// Микшер не принимает точки в именах
	id, err := c.client.CreateParticipant(c.id, strings.ReplaceAll(name, ".", "_"), mcu.LegRTP, mosaicID, sidebarID)
	if err != nil {
		return nil, err
	}

	part := newRTPParticipant(id, name, mosaicID, sidebarID, c, signaling)
	c.seedCodecs(part)

	sessionID := part.SessionID()
	c.mu.Lock()
	c.participants[sessionID] = part
	c.mu.Unlock()

	// Участник убирается из реестра по достижении терминального
	// состояния
	part.AddListener(func(_ Participant, next State) {
		if next.Terminal() {
			c.removeParticipant(sessionID)
		}
	})

	c.logger.Info("участник создан", "id", id, "name", name)
	return part, nil
}

func (c *Conference) seedCodecs(part *RTPParticipant) {
	for _, codec := range c.audioCodecs {
		part.AddSupportedCodec(codecs.Audio, codec)
	}
	for _, codec := range c.videoCodecs {
		part.AddSupportedCodec(codecs.Video, codec)
	}
	for _, codec := range c.textCodecs {
		part.AddSupportedCodec(codecs.Text, codec)
	}
}

// JoinParticipant подключает установившего соединение участника к его
// мозаике и сайдбару. Принимает идентификаторы, а не участника:
// вызывается из-под мьютекса сессии, обратный вызов участника здесь
// недопустим.
func (c *Conference) JoinParticipant(partID, mosaicID, sidebarID int) error {
	if err := c.client.AddMosaicParticipant(c.id, mosaicID, partID); err != nil {
		return err
	}
	if err := c.client.AddSidebarParticipant(c.id, sidebarID, partID); err != nil {
		return err
	}
	return nil
}

// ParticipantStats возвращает статистику медиа потоков участника.
func (c *Conference) ParticipantStats(partID int) (map[string]mcu.MediaStatistics, error) {
	return c.client.GetParticipantStatistics(c.id, partID)
}

// Participant возвращает участника по идентификатору сигнальной
// сессии.
func (c *Conference) Participant(sessionID string) (*RTPParticipant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	part, ok := c.participants[sessionID]
	return part, ok
}

// Participants возвращает снимок текущих участников.
func (c *Conference) Participants() []*RTPParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := make([]*RTPParticipant, 0, len(c.participants))
	for _, part := range c.participants {
		parts = append(parts, part)
	}
	return parts
}

func (c *Conference) removeParticipant(sessionID string) {
	c.mu.Lock()
	delete(c.participants, sessionID)
	c.mu.Unlock()
}

// End завершает всех участников и удаляет конференцию с микшера.
// Удаление best-effort: ошибки RPC логируются и не пробрасываются.
func (c *Conference) End() {
	for _, part := range c.Participants() {
		part.End()
	}
	if err := c.client.DeleteConference(c.id); err != nil {
		c.logger.Error("не удалось удалить конференцию", "id", c.id, "error", err)
	}
	c.logger.Info("конференция завершена", "id", c.id)
}
