package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/rpc/common"
)

func newOpsAdapter(groups *groupRegistry, metaGroup uint64, sink *metricsSink) IHostAdapter {
	return &opsAdapterImpl{groups: groups, metaGroup: metaGroup, sink: sink}
}

// opsAdapterImpl serves partition ids and collects metric reports.
type opsAdapterImpl struct {
	groups    *groupRegistry
	metaGroup uint64
	sink      *metricsSink
}

func (a *opsAdapterImpl) Kinds() []common.MessageKind {
	return []common.MessageKind{common.KindGenPartitionRequest, common.KindMetricReport}
}

func (a *opsAdapterImpl) Handle(_ context.Context, req common.Message) common.Message {
	switch m := req.(type) {
	case *common.GenPartitionRequest:
		return a.genPartition(m)
	case *common.MetricReport:
		a.sink.record(m)
		return nil
	default:
		Logger.Errorf("ops adapter: unsupported message type %s", req.Kind())
		return nil
	}
}

// partitionCounter names the sequence counter of a table in the meta group.
func partitionCounter(tableID uint32) []byte {
	return []byte("partition/" + strconv.FormatUint(uint64(tableID), 10))
}

// genPartition draws the next sequence number of the table from its counter
// in the meta group.
func (a *opsAdapterImpl) genPartition(m *common.GenPartitionRequest) common.Message {
	resp := &common.GenPartitionResponse{}
	resp.SetToken(m.GetToken())

	s, err := a.groups.get(a.metaGroup)
	if err != nil {
		resp.SetErr(err)
		return resp
	}
	results, err := s.Apply([]store.Mutation{{
		Op:    store.OpIncrement,
		Key:   partitionCounter(m.TableID),
		Delta: 1,
	}})
	if err != nil {
		resp.SetErr(err)
		return resp
	}

	seq := uint64(results[0].Count)
	if seq > common.MaxPartitionSeq {
		resp.SetErr(store.NewError(store.RetCInvalidOperation,
			fmt.Sprintf("partition sequence of table %d exhausted", m.TableID)))
		return resp
	}
	resp.PartitionID = common.PartitionID(seq, m.Flags)
	return resp
}
