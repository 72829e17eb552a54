package txbuilder

import (
	"errors"
	"fmt"
)

var (
	ErrEncoding  = errors.New("invalid transaction encoding")
	ErrSigning   = errors.New("signing failed")
	ErrTransport = errors.New("rpc transport failure")
)

// RPCError carries a JSON-RPC error object returned by the node, unmodified.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    interface{}
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%v returned rpc error %d: %s (data: %v)", e.Method, e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("%v returned rpc error %d: %s", e.Method, e.Code, e.Message)
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}
