package conference

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/arzzra/media_gateway/pkg/mcu"
)

// MixerConfig — параметры подключения к медиа микшеру.
type MixerConfig struct {
	Name string
	// URL базового XML-RPC сервиса, без завершающего "/"
	URL string
	// IP — адрес приема RTP на микшере
	IP string
	// PublicIP — внешний адрес микшера, анонсируемый в SDP
	PublicIP string
	// LocalNet — подсеть в CIDR нотации, достижимая микшером напрямую
	LocalNet string

	RPCTimeout time.Duration
	Logger     *slog.Logger
}

// DefaultMixerConfig возвращает конфигурацию с таймаутом RPC по
// умолчанию.
func DefaultMixerConfig() MixerConfig {
	return MixerConfig{RPCTimeout: mcu.DefaultTimeout}
}

// Validate проверяет конфигурацию микшера.
func (c MixerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("не задано имя микшера")
	}
	if c.URL == "" {
		return fmt.Errorf("не задан URL микшера")
	}
	if c.IP == "" {
		return fmt.Errorf("не задан RTP адрес микшера")
	}
	if c.LocalNet != "" {
		if _, _, err := net.ParseCIDR(c.LocalNet); err != nil {
			return fmt.Errorf("некорректная локальная подсеть %q: %w", c.LocalNet, err)
		}
	}
	return nil
}

// Mixer — один экземпляр медиа микшера: RPC клиент плюс сетевая
// политика адресов.
type Mixer struct {
	name     string
	url      string
	ip       string
	publicIP string
	localNet *net.IPNet
	client   *mcu.Client
	logger   *slog.Logger
}

// NewMixer создает микшер и его RPC клиент.
func NewMixer(cfg MixerConfig) (*Mixer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	url := strings.TrimSuffix(cfg.URL, "/")
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = mcu.DefaultTimeout
	}
	client, err := mcu.NewClient(url+"/mcu", timeout, logger)
	if err != nil {
		return nil, err
	}
	mixer := &Mixer{
		name:     cfg.Name,
		url:      url,
		ip:       cfg.IP,
		publicIP: cfg.PublicIP,
		client:   client,
		logger:   logger,
	}
	if cfg.LocalNet != "" {
		// Validate уже проверил нотацию
		_, mixer.localNet, _ = net.ParseCIDR(cfg.LocalNet)
	}
	return mixer, nil
}

// Name возвращает имя микшера.
func (m *Mixer) Name() string { return m.name }

// UID возвращает уникальный идентификатор микшера в реестре.
func (m *Mixer) UID() string { return m.name + "@" + m.url }

// RTPAddress возвращает адрес приема RTP микшера.
func (m *Mixer) RTPAddress() string { return m.ip }

// PublicAddress возвращает внешний адрес микшера.
func (m *Mixer) PublicAddress() string {
	if m.publicIP != "" {
		return m.publicIP
	}
	return m.ip
}

// Client возвращает общий RPC клиент микшера.
func (m *Mixer) Client() *mcu.Client { return m.client }

// IsNated определяет, находится ли адрес за NAT с точки зрения
// микшера: приватный адрес вне локальной подсети недостижим напрямую.
// Некорректный адрес считается недостижимым.
func (m *Mixer) IsNated(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		m.logger.Warn("некорректный адрес, применяется NAT подмена", "addr", addr)
		return true
	}
	if !ip.IsPrivate() {
		return false
	}
	return m.localNet == nil || !m.localNet.Contains(ip)
}

// Close закрывает RPC клиент микшера.
func (m *Mixer) Close() error { return m.client.Close() }
