package gridmeter_modbus

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type TCPPowerMeterReader struct {
	ModbusClient
	powerRegister      uint16
	powerRegisterWidth uint
}

// CreateTCPPowerMeterReader reads the grid power flow from a generic
// modbus TCP energy meter. The power register holds the signed total
// active power in watts, either as an int32 (two holding registers,
// width 32) or as an int16 (one holding register, width 16).
func CreateTCPPowerMeterReader(ip string, port uint, unitId uint8, powerRegister uint16, powerRegisterWidth uint,
	timeout time.Duration, logger *zap.Logger, instrumentation *ModbusInstrument) (PowerMeterReader, error) {
	if powerRegisterWidth != 16 && powerRegisterWidth != 32 {
		return nil, fmt.Errorf("unsupported power register width %d, must be 16 or 32", powerRegisterWidth)
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "gridMeter")).With(zap.Uint8("unit", unitId)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if unitId > 0 {
		if err := client.SetUnitId(unitId); err != nil {
			return nil, err
		}
	}
	reader := TCPPowerMeterReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		powerRegister:      powerRegister,
		powerRegisterWidth: powerRegisterWidth,
	}
	return &reader, nil
}

func (reader *TCPPowerMeterReader) Open() error {
	return reader.client.Open()
}

func (reader TCPPowerMeterReader) Close() error {
	return reader.client.Close()
}

func (reader TCPPowerMeterReader) GetInfo() (*MeterInfo, error) {
	return &MeterInfo{
		Manufacturer: "Generic",
		Model:        "Modbus TCP meter",
	}, nil
}

func (reader TCPPowerMeterReader) GetCurrentPowerFlowWatt() (float64, error) {
	if reader.powerRegisterWidth == 16 {
		value, err := reader.readRegister(reader.powerRegister, modbus.HOLDING_REGISTER)
		if err != nil {
			return 0, err
		}
		return float64(int16(value)), nil
	}
	value, err := reader.readUint32(reader.powerRegister, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return float64(int32(value)), nil
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus read",
				zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}
