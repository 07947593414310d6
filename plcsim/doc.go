// Package plcsim simulates the IEB PLC for tests and bench work.
//
// Server speaks the line protocol of package codec over TCP. Its process
// image is a set of named points; writes to digital outputs can be linked to
// inputs so that a motor output reaches its limit switch after a delay.
// Faults can be injected per channel to produce malformed replies, silence,
// device errors or dropped connections.
//
// ModbusServer serves the WAGO coupler registers (analog sensors and the
// relay output image) over Modbus TCP.
//
// SENS4 and DepthGauge answer the ASCII protocols of the pressure transducer
// gateway and of the depth gauge counter.
package plcsim
