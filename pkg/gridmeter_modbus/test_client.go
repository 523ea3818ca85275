package gridmeter_modbus

import "sync"

func CreateTestPowerMeterReader() *TestPowerMeterReader {
	return &TestPowerMeterReader{}
}

// TestPowerMeterReader is an in-memory meter with a settable value.
type TestPowerMeterReader struct {
	mu        sync.Mutex
	powerWatt float64
	openErr   error
	readErr   error
}

func (reader *TestPowerMeterReader) SetPowerFlowWatt(value float64) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.powerWatt = value
}

func (reader *TestPowerMeterReader) FailReads(err error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.readErr = err
}

func (reader *TestPowerMeterReader) Open() error {
	return reader.openErr
}

func (reader *TestPowerMeterReader) Close() error {
	return nil
}

func (reader *TestPowerMeterReader) GetInfo() (*MeterInfo, error) {
	return &MeterInfo{
		Manufacturer: "Zenfleet",
		Model:        "Test meter",
		Version:      "1.0",
	}, nil
}

func (reader *TestPowerMeterReader) GetCurrentPowerFlowWatt() (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if reader.readErr != nil {
		return 0, reader.readErr
	}
	return reader.powerWatt, nil
}
