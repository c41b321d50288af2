package relay

// Mock is a backend that just remembers the commanded state, used in
// tests and when no hardware is selected.
type Mock struct {
	state
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) SetDrive(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drive = on
	return nil
}

func (m *Mock) GetDrive() bool { return m.getDrive() }

func (m *Mock) GetPinLevel() (bool, bool) { return m.GetDrive(), true }

func (m *Mock) Close() error { return nil }

// Disabled is a backend that silently discards commands, for
// deployments with no relay hardware wired at all.
type Disabled struct{}

func NewDisabled() *Disabled { return &Disabled{} }

func (Disabled) SetDrive(bool) error        { return nil }
func (Disabled) GetDrive() bool             { return false }
func (Disabled) GetPinLevel() (bool, bool)  { return false, false }
func (Disabled) Close() error               { return nil }

var (
	_ Relay = (*Mock)(nil)
	_ Relay = Disabled{}
)
