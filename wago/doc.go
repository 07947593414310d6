// Package wago reads the environment sensors and switches the power relays of
// the IEB through its WAGO fieldbus coupler over Modbus TCP.
//
// Analog modules are mapped onto holding registers: the humidity/temperature
// sensors occupy pairs starting at register 0 and the Pt RTD channels start at
// register 8. The 8-channel digital output module is written coil by coil and
// read back through its process image register.
package wago
