package hwstate

import (
	"sync"

	"labgateway.dev/labgw/internal/canframe"
)

// PATMatrix holds the last-seen decoded pin list per PAT_J0..PAT_J5
// connector, for dashboard-only consumption (spec §3 "PAT matrix
// state"). It implements rx.PATSink.
type PATMatrix struct {
	mu     sync.Mutex
	fields [canframe.PATCount][canframe.PATFieldCount]byte
	seen   [canframe.PATCount]bool
	labels []string // optional PAT_J0 signal labels loaded from a DBC file
}

func NewPATMatrix() *PATMatrix { return &PATMatrix{} }

// SetPAT records the latest decoded fields for connector (spec §4.6
// step 3: "best-effort; no enqueue").
func (m *PATMatrix) SetPAT(connector int, fields [canframe.PATFieldCount]byte) {
	if connector < 0 || connector >= canframe.PATCount {
		return
	}
	m.mu.Lock()
	m.fields[connector] = fields
	m.seen[connector] = true
	m.mu.Unlock()
}

// SetLabels attaches PAT_J0 signal labels parsed from a DBC file
// (spec §9 "DBC parsing ... specified only at the decode level");
// labels are purely descriptive and never gate SetPAT.
func (m *PATMatrix) SetLabels(labels []string) {
	m.mu.Lock()
	m.labels = append([]string(nil), labels...)
	m.mu.Unlock()
}

// ConnectorSnapshot is one connector's last-seen state.
type ConnectorSnapshot struct {
	Connector int    `json:"connector"`
	Seen      bool   `json:"seen"`
	Fields    []byte `json:"fields"`
}

// Snapshot returns every connector's last-seen pin fields, along with
// any loaded labels, for the observability HTTP surface.
func (m *PATMatrix) Snapshot() (conns []ConnectorSnapshot, labels []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns = make([]ConnectorSnapshot, canframe.PATCount)
	for i := 0; i < canframe.PATCount; i++ {
		conns[i] = ConnectorSnapshot{Connector: i, Seen: m.seen[i], Fields: append([]byte(nil), m.fields[i][:]...)}
	}
	labels = append([]string(nil), m.labels...)
	return conns, labels
}
