package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/wire"
)

var errEmptyAck = errors.New("empty ack")

// decodeAny converts a socket.io argument (already decoded into maps and
// slices) into a typed payload.
func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func decodeFirst(args []any, out any) error {
	if len(args) == 0 {
		return errors.New("missing payload")
	}
	return decodeAny(args[0], out)
}

func firstString(args []any) string {
	if len(args) == 0 {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", args[0])
}

func decodeResponse(args []any) (wire.WalletResponse, error) {
	var resp wire.WalletResponse
	if len(args) == 0 || args[0] == nil {
		return resp, errEmptyAck
	}
	if err := decodeAny(args[0], &resp); err != nil {
		return resp, fmt.Errorf("invalid ack: %w", err)
	}
	return resp, nil
}

// decodeResult turns a response into either a *wallet.RPCError or the
// decoded result.
func decodeResult(resp wire.WalletResponse, result any) error {
	if resp.Error != nil {
		return &wallet.RPCError{
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}
	if result == nil {
		return nil
	}
	raw := []byte(resp.Result)
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// splitAck separates the trailing ack callback from an incoming event's
// arguments. The client library hands acks over as one of several func
// shapes depending on the transport path.
func splitAck(args []any) ([]any, func(...any)) {
	if len(args) == 0 {
		return args, nil
	}
	last := args[len(args)-1]
	switch cb := last.(type) {
	case func(...any):
		return args[:len(args)-1], cb
	case func([]any, error):
		return args[:len(args)-1], func(resp ...any) { cb(resp, nil) }
	}

	cbVal := reflect.ValueOf(last)
	if !cbVal.IsValid() || cbVal.Kind() != reflect.Func {
		return args, nil
	}
	cbType := cbVal.Type()
	errorType := reflect.TypeOf((*error)(nil)).Elem()
	if cbType.NumIn() == 2 &&
		cbType.In(0).Kind() == reflect.Slice &&
		cbType.In(0).Elem().Kind() == reflect.Interface &&
		cbType.In(1) == errorType {
		return args[:len(args)-1], func(resp ...any) {
			cbVal.Call([]reflect.Value{reflect.ValueOf(resp), reflect.Zero(errorType)})
		}
	}
	if cbType.IsVariadic() && cbType.NumIn() == 1 {
		return args[:len(args)-1], func(resp ...any) {
			in := make([]reflect.Value, len(resp))
			for i, r := range resp {
				in[i] = reflect.ValueOf(r)
				if !in[i].IsValid() {
					in[i] = reflect.Zero(cbType.In(0).Elem())
				}
			}
			cbVal.Call(in)
		}
	}
	return args, nil
}
