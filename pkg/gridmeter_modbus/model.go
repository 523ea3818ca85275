package gridmeter_modbus

type MeterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

// PowerMeterReader reads the signed grid power flow from a meter.
// Positive = import. Negative = export.
type PowerMeterReader interface {
	Open() error
	Close() error
	GetInfo() (*MeterInfo, error)
	GetCurrentPowerFlowWatt() (float64, error)
}
