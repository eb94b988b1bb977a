// Package sipsig реализует SIP-адаптер сигнализации конференций поверх
// sipgo: входящие INVITE превращаются в участников конференции, а
// интерфейс Signaling доставляет ответы и внутридиалоговые запросы
// удаленной стороне.
package sipsig

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/media_gateway/pkg/conference"
)

// DefaultSessionExpiry — период проверки живости ног без сигнального
// трафика.
const DefaultSessionExpiry = 2 * time.Minute

// Router выбирает конференцию для входящего INVITE по Request-URI.
// Возврат false означает, что вызов будет отклонен с кодом 404.
type Router func(target sip.Uri) (*conference.Conference, bool)

// Config определяет параметры SIP-стека шлюза.
type Config struct {
	// UserAgent — значение заголовка User-Agent.
	UserAgent string

	// Transport — транспорт для прослушивания ("udp" или "tcp").
	Transport string

	// ListenAddr — адрес прослушивания в формате host:port.
	ListenAddr string

	// ContactUser, ContactHost, ContactPort образуют локальный Contact.
	ContactUser string
	ContactHost string
	ContactPort int

	// SessionExpiry — интервал проверки живости установленных ног.
	SessionExpiry time.Duration

	// Router маршрутизирует входящие вызовы по конференциям.
	Router Router

	// Logger — опциональный логгер; по умолчанию slog.Default().
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию с разумными значениями по
// умолчанию. Router и ContactHost должны быть заданы вызывающим.
func DefaultConfig() Config {
	return Config{
		UserAgent:     "media-gateway",
		Transport:     "udp",
		ListenAddr:    "0.0.0.0:5060",
		ContactUser:   "gateway",
		ContactPort:   5060,
		SessionExpiry: DefaultSessionExpiry,
	}
}

// Validate проверяет полноту и согласованность конфигурации.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("не задан адрес прослушивания")
	}
	if c.Transport != "udp" && c.Transport != "tcp" {
		return fmt.Errorf("неподдерживаемый транспорт: %s", c.Transport)
	}
	if c.ContactHost == "" {
		return fmt.Errorf("не задан хост Contact")
	}
	if c.ContactPort <= 0 || c.ContactPort > 65535 {
		return fmt.Errorf("некорректный порт Contact: %d", c.ContactPort)
	}
	if c.Router == nil {
		return fmt.Errorf("не задан маршрутизатор конференций")
	}
	if c.SessionExpiry <= 0 {
		return fmt.Errorf("некорректный интервал проверки живости: %s", c.SessionExpiry)
	}
	return nil
}
