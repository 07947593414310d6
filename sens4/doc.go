// Package sens4 reads SENS4 vacuum pressure transducers through a
// serial-to-TCP gateway.
//
// Several transducers may share one RS-485 line, each answering to its own
// device address. A query is "@<id><Q>?\" and the reply "@<id>ACK<value>\",
// where Q is P for pressure or T for the sensor temperature. A rejected query
// is answered with "@<id>NAK<code>\".
//
// Requests are serialized on one connection that is reopened once when an
// exchange fails.
package sens4
