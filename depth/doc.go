// Package depth reads the Heidenhain depth gauges that measure the focus
// position of the camera under test.
//
// The gauges are wired to a counter behind a serial-to-TCP gateway. Sending
// "SEND <ch>" returns the reading of one channel as "<ch> <value> mm". A
// measurement reads every configured channel and fails as a whole when any
// of them fails, so a partial focus measurement is never reported.
package depth
