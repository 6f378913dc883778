package common

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Partition ids
// --------------------------------------------------------------------------

const (
	// PartitionFlagBits is the number of low bits of a partition id that carry the request flags
	PartitionFlagBits = 12
	partitionFlagMask = 1<<PartitionFlagBits - 1
	// MaxPartitionSeq is the largest sequence that still yields a 44 bit partition id
	MaxPartitionSeq = 1<<(44-PartitionFlagBits) - 1
)

// PartitionID combines a sequence number and the request flags: seq<<12 | flags&0xFFF.
func PartitionID(seq uint64, flags uint16) uint64 {
	return seq<<PartitionFlagBits | uint64(flags)&partitionFlagMask
}

// SplitPartitionID is the inverse of PartitionID.
func SplitPartitionID(id uint64) (seq uint64, flags uint16) {
	return id >> PartitionFlagBits, uint16(id & partitionFlagMask)
}

// GenPartitionRequest asks the host for a new partition id of a table.
// Layout: token u64, table id u32, flags u16.
type GenPartitionRequest struct {
	Token   uint64
	TableID uint32
	Flags   uint16
}

func (m *GenPartitionRequest) Kind() MessageKind     { return KindGenPartitionRequest }
func (m *GenPartitionRequest) GetToken() uint64      { return m.Token }
func (m *GenPartitionRequest) SetToken(token uint64) { m.Token = token }
func (m *GenPartitionRequest) SizeBytes() int        { return 8 + 4 + 2 }

func (m *GenPartitionRequest) Encode(e *Encoder) {
	e.U64(m.Token)
	e.U32(m.TableID)
	e.U16(m.Flags)
}

func (m *GenPartitionRequest) Decode(d *Decoder) error {
	m.Token = d.U64("token")
	m.TableID = d.U32("table id")
	m.Flags = d.U16("flags")
	return d.Err()
}

// GenPartitionResponse carries the new id. Layout: status, partition id u64.
type GenPartitionResponse struct {
	KVStatus
	PartitionID uint64
}

func (m *GenPartitionResponse) Kind() MessageKind { return KindGenPartitionResponse }
func (m *GenPartitionResponse) SizeBytes() int    { return m.KVStatus.sizeBytes() + 8 }

func (m *GenPartitionResponse) Encode(e *Encoder) {
	m.KVStatus.encode(e)
	e.U64(m.PartitionID)
}

func (m *GenPartitionResponse) Decode(d *Decoder) error {
	m.KVStatus.decode(d)
	m.PartitionID = d.U64("partition id")
	return d.Err()
}

// --------------------------------------------------------------------------
// Cache invalidation
// --------------------------------------------------------------------------

// InvalidModelsCache tells workers to drop cached metadata. It is fire-and-forget
// (host to worker). Empty lists invalidate everything.
// Layout: service count u16, services (string), model count u16, models u64.
type InvalidModelsCache struct {
	Services []string
	Models   []uint64
}

func (m *InvalidModelsCache) Kind() MessageKind { return KindInvalidModelsCache }

func (m *InvalidModelsCache) SizeBytes() int {
	size := 2 + 2 + 8*len(m.Models)
	for _, s := range m.Services {
		size += sizeString(s)
	}
	return size
}

func (m *InvalidModelsCache) Encode(e *Encoder) {
	e.Count(len(m.Services))
	for _, s := range m.Services {
		e.String(s)
	}
	e.Count(len(m.Models))
	for _, id := range m.Models {
		e.U64(id)
	}
}

func (m *InvalidModelsCache) Decode(d *Decoder) error {
	if n := d.Count("services", 2); n > 0 {
		m.Services = make([]string, n)
		for i := range m.Services {
			m.Services[i] = d.String("service")
		}
	}
	if n := d.Count("models", 8); n > 0 {
		m.Models = make([]uint64, n)
		for i := range m.Models {
			m.Models[i] = d.U64("model")
		}
	}
	return d.Err()
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// MetricKind tells the sink how to merge a reported value.
type MetricKind uint8

const (
	MetricCounter   MetricKind = iota + 1 // monotonic total, the sink adds the difference
	MetricGauge                           // current value
	MetricHistogram                       // one observation
)

func (k MetricKind) String() string {
	switch k {
	case MetricCounter:
		return "counter"
	case MetricGauge:
		return "gauge"
	case MetricHistogram:
		return "histogram"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Metric is one reported value.
type Metric struct {
	Name  string
	Kind  MetricKind
	Value float64
}

// MetricReport is posted periodically by workers (fire-and-forget).
// Layout: source u8, peer id u16, metric count u16, metrics (name string, kind u8, value f64).
type MetricReport struct {
	Source  Source
	PeerID  uint16
	Metrics []Metric
}

const metricMinSize = 2 + 1 + 8

func (m *MetricReport) Kind() MessageKind { return KindMetricReport }

func (m *MetricReport) SizeBytes() int {
	size := 1 + 2 + 2
	for _, metric := range m.Metrics {
		size += metricMinSize + len(metric.Name)
	}
	return size
}

func (m *MetricReport) Encode(e *Encoder) {
	e.U8(uint8(m.Source))
	e.U16(m.PeerID)
	e.Count(len(m.Metrics))
	for _, metric := range m.Metrics {
		e.String(metric.Name)
		e.U8(uint8(metric.Kind))
		e.F64(metric.Value)
	}
}

func (m *MetricReport) Decode(d *Decoder) error {
	m.Source = Source(d.U8("source"))
	m.PeerID = d.U16("peer id")
	if n := d.Count("metrics", metricMinSize); n > 0 {
		m.Metrics = make([]Metric, n)
		for i := range m.Metrics {
			m.Metrics[i].Name = d.String("metric name")
			m.Metrics[i].Kind = MetricKind(d.U8("metric kind"))
			m.Metrics[i].Value = d.F64("metric value")
		}
	}
	return d.Err()
}

// --------------------------------------------------------------------------
// Debugger
// --------------------------------------------------------------------------

// DebugEvent carries one framed debug adapter message (JSON body) of a debug session.
// Layout: session (string), body (bytes).
type DebugEvent struct {
	Session string
	Body    []byte
}

func (m *DebugEvent) Kind() MessageKind { return KindDebugEvent }
func (m *DebugEvent) SizeBytes() int    { return sizeString(m.Session) + sizeBytes(m.Body) }

func (m *DebugEvent) Encode(e *Encoder) {
	e.String(m.Session)
	e.Bytes(m.Body)
}

func (m *DebugEvent) Decode(d *Decoder) error {
	m.Session = d.String("session")
	m.Body = d.BytesCopy("body")
	return d.Err()
}
