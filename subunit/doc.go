// Package subunit encodes and decodes subunit test-result streams.
//
// Two wire encodings are supported. The text encoding is the classic
// line protocol understood by existing subunit tooling:
//
//	test: <id>
//	success: <id>
//	failure: <id> [
//	<message lines>
//	]
//	error: <id> [
//	<message lines>
//	]
//
// Message lines that would read back as the closing bracket are quoted
// with one extra leading space.
//
// The binary encoding writes one self-delimiting frame per event:
//
//	FRAME       := SIGNATURE FLAGS LENGTH BODY CRC32?
//	SIGNATURE   := 0xb3
//	FLAGS       := high byte: version<<4 | 0x08 attachments | 0x04 message
//	                          | 0x02 timestamp | 0x01 crc
//	               low byte:  kind (1 start, 2 success, 3 fail, 4 error,
//	                          5 skip, 6 progress)
//	LENGTH      := NUMBER, size of the whole frame in bytes
//	BODY        := TIMESTAMP? TESTID MESSAGE? ATTACHMENTS?
//	TIMESTAMP   := uint32 seconds since the epoch, NUMBER nanoseconds
//	TESTID      := STRING
//	MESSAGE     := STRING
//	ATTACHMENTS := NUMBER count, then per attachment:
//	               STRING name, byte has-mime, STRING mime (if has-mime),
//	               STRING data
//	STRING      := NUMBER length, bytes
//	NUMBER      := 1 to 4 bytes, big endian; the top two bits of the first
//	               byte hold the number of bytes that follow
//	CRC32       := big endian IEEE CRC32 of all preceding frame bytes
//
// The current frame version is 3. Subunit v2 packets share the signature
// byte but carry version 2 and are rejected with an
// UnsupportedVersionError rather than misread.
//
// An Encoder flushes after every event; a Decoder produces a lazy, single
// pass sequence of Tokens and never resynchronizes unless asked to.
package subunit
