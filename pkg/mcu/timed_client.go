package mcu

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"
)

// DefaultTimeout — максимальное время ожидания ответа микшера.
const DefaultTimeout = 10 * time.Second

// Response — конверт ответа микшера. Каждый метод, возвращающий
// значение, кладет его в массив returnVal; булевы результаты
// кодируются целым 1.
type Response struct {
	ReturnVal  []interface{} `xmlrpc:"returnVal"`
	ReturnCode int           `xmlrpc:"returnCode"`
}

// TimedClient выполняет XML-RPC вызовы с ограниченным временем
// ожидания. По истечении таймаута вызов завершается RPCError
// независимо от того, ответит ли микшер позже: запрос в полете
// оставляется без отмены.
type TimedClient struct {
	client  *xmlrpc.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewTimedClient создает клиент для указанного URL микшера.
func NewTimedClient(url string, timeout time.Duration, logger *slog.Logger) (*TimedClient, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	rpc, err := xmlrpc.NewClient(url, http.DefaultTransport)
	if err != nil {
		return nil, err
	}
	return &TimedClient{client: rpc, timeout: timeout, logger: logger}, nil
}

// Timeout возвращает текущий таймаут клиента.
func (c *TimedClient) Timeout() time.Duration {
	return c.timeout
}

// Execute выполняет метод с позиционными аргументами и ждет ответ не
// дольше таймаута.
func (c *TimedClient) Execute(method string, args []interface{}) (Response, error) {
	type callResult struct {
		response Response
		err      error
	}
	// Буфер на один элемент: брошенный по таймауту вызов допишет
	// результат и завершится, не блокируясь.
	done := make(chan callResult, 1)

	start := time.Now()
	go func() {
		var response Response
		err := c.client.Call(method, args, &response)
		done <- callResult{response: response, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		observeRequest(method, time.Since(start), result.err)
		if result.err != nil {
			return Response{}, &RPCError{Method: method, Err: result.err}
		}
		return result.response, nil
	case <-timer.C:
		observeTimeout(method)
		c.logger.Warn("mcu запрос брошен по таймауту", "method", method, "timeout", c.timeout)
		return Response{}, &RPCError{Method: method, Timeout: true}
	}
}

// Close освобождает ресурсы клиента.
func (c *TimedClient) Close() error {
	return c.client.Close()
}
