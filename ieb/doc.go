/*
Package ieb controls the Instrument Electronics Box of a spectrograph through
its PLC.

A Controller owns one line-protocol connection to the PLC (see packages codec
and transport) and exposes the box as named channels and device groups:

	cfg, err := ieb.NewConfig("ieb-plc", 9999,
		ieb.WithIdentity("ID", "IEB"),
		ieb.WithChannels(channels...),
		ieb.WithGroups(groups...),
	)
	ctrl := ieb.NewController(cfg)
	snap, err := ctrl.Initialize(ctx)
	err = ctrl.OpenHartmann(ctx, ieb.SideBoth)

Only one request is ever in flight. Concurrent callers queue in arrival order.
A request that fails on the transport is retried once after a reconnect;
a second failure surfaces as ErrConnection.

A motor movement asserts its output and polls the confirming input until it
reports the terminal state or the actuation timeout elapses. The output is
then de-asserted unconditionally. If the de-assert itself fails the
connection is marked faulted and ErrConnection is returned.

Every failed read leaves the last good value in the channel cache and marks it
stale, so Snapshot always reflects the best known state of the box.
*/
package ieb
