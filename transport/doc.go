/*
Package transport owns the single TCP connection to the IEB PLC.

A Transport moves whole lines: Send writes one request frame and Receive
blocks until one reply line arrives or the read deadline expires. It knows
nothing about the content of the lines; see package codec for that.

# Connection states

	Disconnected --Connect ok--> Connected --I/O failure or timeout--> Faulted
	     ^  \                        |                                   |
	     |   `--Connect failed--> Faulted                                |
	     `------------------ Close / Connect (reset) --------------------'

A read timeout faults the connection on purpose: a reply arriving after its
deadline would otherwise be taken as the answer to the next request. Faulting
closes the socket so the late reply is discarded with it.

Reconnect policy is left to the caller. Connect on a Faulted transport first
releases the old socket and then dials again.

# Errors

All failures wrap one of ErrConnection, ErrTimeout or ErrIO and can be
matched with errors.Is.
*/
package transport
