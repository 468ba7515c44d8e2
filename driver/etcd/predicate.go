package etcd

import (
	"fmt"

	etcd "go.etcd.io/etcd/client/v3"

	"github.com/tarantool/go-coordination/predicate"
)

// compareResults maps predicate operators to etcd comparison results.
var compareResults = map[predicate.Op]string{ //nolint:gochecknoglobals
	predicate.OpEqual:    "=",
	predicate.OpNotEqual: "!=",
	predicate.OpGreater:  ">",
	predicate.OpLess:     "<",
}

// predicatesToCmps converts transaction predicates to etcd comparisons.
func predicatesToCmps(predicates []predicate.Predicate) ([]etcd.Cmp, error) {
	cmps := make([]etcd.Cmp, 0, len(predicates))

	for _, pred := range predicates {
		cmp, err := predicateToCmp(pred)
		if err != nil {
			return nil, err
		}

		cmps = append(cmps, cmp)
	}

	return cmps, nil
}

func predicateToCmp(pred predicate.Predicate) (etcd.Cmp, error) {
	key := string(pred.Key())

	result, known := compareResults[pred.Operation()]

	switch pred.Target() {
	case predicate.TargetValue:
		var value string

		switch v := pred.Value().(type) {
		case []byte:
			value = string(v)
		case string:
			value = v
		default:
			return etcd.Cmp{}, errValuePredicateRequiresBytes
		}

		// etcd compares values only for equality.
		if pred.Operation() != predicate.OpEqual && pred.Operation() != predicate.OpNotEqual {
			return etcd.Cmp{}, fmt.Errorf("%w: %v", errUnsupportedValueOperation, pred.Operation())
		}

		return etcd.Compare(etcd.Value(key), result, value), nil
	case predicate.TargetVersion:
		revision, ok := pred.Value().(int64)
		if !ok {
			return etcd.Cmp{}, errVersionPredicateRequiresInt
		}

		if !known {
			return etcd.Cmp{}, fmt.Errorf("%w: %v", errUnsupportedVersionOperation, pred.Operation())
		}

		return etcd.Compare(etcd.ModRevision(key), result, revision), nil
	default:
		return etcd.Cmp{}, fmt.Errorf("%w: %v", errUnsupportedPredicateTarget, pred.Target())
	}
}
