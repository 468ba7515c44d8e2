package tkv

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tarantool/go-coordination/kv"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
	"github.com/tarantool/go-coordination/tx"
)

type txnOpResponse struct {
	Response []struct {
		Path        []byte `msgpack:"path"`
		ModRevision int64  `msgpack:"mod_revision"`
		Value       []byte `msgpack:"value"`
	}
}

func (t *txnOpResponse) DecodeMsgpack(decoder *msgpack.Decoder) error {
	if err := decoder.Decode(&t.Response); err != nil {
		return NewTxnOpResponseDecodingError(err)
	}

	return nil
}

type txnResponse struct {
	Data struct {
		IsSuccess bool            `msgpack:"is_success"`
		Responses []txnOpResponse `msgpack:"responses"`
	} `msgpack:"data"`
	Revision int64 `msgpack:"revision"`
}

// asTxnResponse converts the storage answer. Keys written by the transaction
// itself come back without a revision and get the transaction revision.
func (r txnResponse) asTxnResponse() tx.Response {
	results := make([]tx.RequestResponse, 0, len(r.Data.Responses))
	for _, val := range r.Data.Responses {
		keyValues := make([]kv.KeyValue, 0, len(val.Response))
		for _, resp := range val.Response {
			modRevision := resp.ModRevision
			if modRevision == 0 && r.Revision != 0 {
				modRevision = r.Revision
			}

			keyValues = append(keyValues, kv.KeyValue{
				Key:         resp.Path,
				Value:       resp.Value,
				ModRevision: modRevision,
				Ephemeral:   false,
			})
		}

		results = append(results, tx.RequestResponse{
			Values: keyValues,
		})
	}

	return tx.Response{
		Succeeded: r.Data.IsSuccess,
		Results:   results,
	}
}

type txnRequest struct {
	_msgpack struct{} `msgpack:",omitempty"`

	Predicates []tkvPredicate `msgpack:"predicates"`
	OnSuccess  []tkvOperation `msgpack:"on_success"`
	OnFailure  []tkvOperation `msgpack:"on_failure"`
}

func newTxnRequest(
	predicates []predicate.Predicate,
	onSuccess []operation.Operation,
	onFailure []operation.Operation,
) txnRequest {
	return txnRequest{
		_msgpack:   struct{}{},
		Predicates: newTKVPredicates(predicates),
		OnSuccess:  newTKVOperations(onSuccess),
		OnFailure:  newTKVOperations(onFailure),
	}
}
