package etcd

import (
	"fmt"

	etcd "go.etcd.io/etcd/client/v3"

	"github.com/tarantool/go-coordination/operation"
)

// operationsToEtcdOps converts operations to etcd operations.
// Ephemeral puts are bound to lease.
func operationsToEtcdOps(ops []operation.Operation, lease etcd.LeaseID) ([]etcd.Op, error) {
	etcdOps := make([]etcd.Op, 0, len(ops))
	for _, op := range ops {
		etcdOp, err := operationToEtcdOp(op, lease)
		if err != nil {
			return nil, err
		}

		etcdOps = append(etcdOps, etcdOp)
	}

	return etcdOps, nil
}

// operationToEtcdOp converts an operation to an etcd operation.
func operationToEtcdOp(storageOperation operation.Operation, lease etcd.LeaseID) (etcd.Op, error) {
	key := string(storageOperation.Key())

	var ops []etcd.OpOption
	if storageOperation.IsPrefix() {
		ops = append(ops, etcd.WithPrefix())
	}

	switch storageOperation.Type() {
	case operation.TypeGet:
		return etcd.OpGet(key, ops...), nil
	case operation.TypePut:
		switch {
		case storageOperation.IsEphemeral() && lease != etcd.NoLease:
			ops = append(ops, etcd.WithLease(lease))
		case storageOperation.KeepsSession():
			ops = append(ops, etcd.WithIgnoreLease())
		}

		return etcd.OpPut(key, string(storageOperation.Value()), ops...), nil
	case operation.TypeDelete:
		ops = append(ops, etcd.WithPrevKV())
		return etcd.OpDelete(key, ops...), nil
	default:
		return etcd.Op{}, fmt.Errorf("%w: %v", errUnsupportedOperationType, storageOperation.Type())
	}
}
