package mcu

import (
	"errors"
	"fmt"
)

// RPCError представляет ошибку удаленного вызова медиа-микшера.
//
// Транспортные сбои и таймауты сведены к одному виду ошибки: вызывающий
// код не должен ветвиться по деталям транспорта, только по факту
// таймаута.
type RPCError struct {
	Method  string
	Timeout bool
	Err     error
}

func (e *RPCError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("mcu: таймаут запроса %s", e.Method)
	}
	return fmt.Sprintf("mcu: запрос %s завершился ошибкой: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// IsTimeout сообщает, была ли ошибка вызвана истечением таймаута.
func IsTimeout(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Timeout
}
