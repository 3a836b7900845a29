// Package lutron implements the Lutron protocol bridge for Gray Logic.
//
// A Bridge owns one persistent connection to a Lutron hub and speaks one of
// two wire protocols:
//
//   - LIP, the line-oriented Telnet integration protocol used by RadioRA 2,
//     HomeWorks QS and the older Caseta Pro hubs.
//   - LEAP, the TLS-framed JSON protocol used by newer Caseta and RA3 hubs.
//
// # Architecture
//
//	 device handlers                         Lutron hub
//	┌──────────────┐  SendCommand  ┌──────┐  sender   ┌─────┐
//	│ Handler (id) │──────────────►│queue │──────────►│     │
//	│              │◄──────────────┤      │  reader   │ LIP │
//	└──────────────┘  HandleUpdate └──────┘◄──────────┤LEAP │
//	                    Registry                      └─────┘
//
// Each connection is a session with two goroutines: a reader that parses
// inbound frames and dispatches them to registered handlers, and a sender
// that drains the shared command queue. A mutex-guarded state machine owns
// the session lifecycle, the keepalive timers and the reconnect timer. Every
// session change increments an epoch counter; timers and loops carry the
// epoch they were started with and become no-ops once it is stale.
//
// # Status
//
//	Disconnected → Connecting → Authenticating → Initializing → Online
//	                     └──────────────┴──────────────┴──────────┴──► Offline(reason)
//
// Offline(CONFIGURATION_ERROR) waits for a config change. Offline
// (COMMUNICATION_ERROR) after a failed connect retries after the reconnect
// interval; after a lost session or a missed keepalive it reconnects at once.
//
// # Message vocabulary
//
// Both protocols surface updates as LIP-shaped messages (OUTPUT, DEVICE,
// GROUP, ...) so device handlers are protocol agnostic. LEAP zone ids are
// translated to device ids through discovery data held by the Registry.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Handler callbacks run on
// the reader goroutine and must not block.
package lutron
