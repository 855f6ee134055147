package device

import (
	"io"
	"rvos/kernel/kfmt"
)

// Manager keeps track of the devices discovered at boot time.
type Manager struct {
	records []Record

	// Log receives a line for every added device. If nil, the output is
	// sent to the active kfmt output sink.
	Log io.Writer
}

// Add appends rec to the list of known devices.
func (m *Manager) Add(rec Record) {
	w := m.Log
	if w == nil {
		w = kfmt.GetOutputSink()
	}
	kfmt.Fprintf(w, "discovered %s: %s\n", rec.Type.String(), rec.Name)

	m.records = append(m.records, rec)
}

// Len returns the number of known devices.
func (m *Manager) Len() int {
	return len(m.records)
}

// Records returns the known devices in discovery order. The returned records
// are owned by the manager.
func (m *Manager) Records() []Record {
	return m.records
}

// ByType returns the known devices of type t in discovery order.
func (m *Manager) ByType(t Type) []*Record {
	var list []*Record
	for i := range m.records {
		if m.records[i].Type == t {
			list = append(list, &m.records[i])
		}
	}

	return list
}

// Find returns the first device with the given node path or nil if no such
// device exists.
func (m *Manager) Find(name string) *Record {
	for i := range m.records {
		if m.records[i].Name == name {
			return &m.records[i]
		}
	}

	return nil
}
