package tkv

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tarantool/go-coordination/operation"
)

// ErrUnknownOperation is returned when the operation type has no config storage counterpart.
var ErrUnknownOperation = errors.New("unknown operation")

const (
	putOperationArrayLen   = 3
	otherOperationArrayLen = 2
)

var (
	_ msgpack.CustomEncoder = tkvOperation{} //nolint:exhaustruct

	//nolint: gochecknoglobals
	ops = map[operation.Type]string{
		operation.TypeGet:    "get",
		operation.TypePut:    "put",
		operation.TypeDelete: "delete",
	}
)

type tkvOperation struct {
	operation.Operation
}

func newTKVOperations(operations []operation.Operation) []tkvOperation {
	tkvOperations := make([]tkvOperation, 0, len(operations))
	for _, o := range operations {
		tkvOperations = append(tkvOperations, tkvOperation{o})
	}

	return tkvOperations
}

// EncodeMsgpack encodes the operation as ["put", key, value] or [type, key].
// Keys ending with "/" address every key under the prefix.
func (o tkvOperation) EncodeMsgpack(encoder *msgpack.Encoder) error {
	name, ok := ops[o.Type()]
	if !ok {
		return NewOperationEncodingError(o.Type().String(), ErrUnknownOperation)
	}

	arrayLen := otherOperationArrayLen
	if o.Type() == operation.TypePut {
		arrayLen = putOperationArrayLen
	}

	if err := encoder.EncodeArrayLen(arrayLen); err != nil {
		return NewOperationEncodingError("array length", err)
	}

	if err := encoder.EncodeString(name); err != nil {
		return NewOperationEncodingError("type", err)
	}

	if err := encoder.EncodeString(string(o.Key())); err != nil {
		return NewOperationEncodingError("key", err)
	}

	if o.Type() == operation.TypePut {
		if err := encoder.EncodeString(string(o.Value())); err != nil {
			return NewOperationEncodingError("value", err)
		}
	}

	return nil
}
