/*
Package codec implements the line oriented wire protocol spoken by the IEB PLC.

Every frame is a single line: a two byte header (0x00 0x07), an ASCII body and a
carriage return. The controller sends requests and the PLC answers each one
with exactly one reply.

Requests:

	RD <channel>            read a channel
	WD <channel> 0|1        write a digital output
	WA <channel> <number>   write an analog output

Replies:

	<channel>=<payload>     success; payload is 0|1, "<number> [unit]" or text
	ERR [<channel>] [text]  the PLC rejected the request

Client side, Encode turns a Command into a frame and Decode validates a reply
line against the Command that produced it: the reply must name the same
channel and carry a payload of the shape implied by the channel Kind,
otherwise Decode fails with ErrProtocol. Encode rejects commands that cannot
be represented on the wire with ErrEncoding.

Server side, DecodeRequest, EncodeReply and EncodeError are the mirror image
and are used by the PLC simulator.
*/
package codec
