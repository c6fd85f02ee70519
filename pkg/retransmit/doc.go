// Package retransmit schedules DTLS flight retransmission.
//
// A flight is armed when its last message is sent. If no response arrives
// before the timer expires the flight is resent and the timeout doubles:
//
//  1. Initial timeout: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum timeout: 60 seconds
//  4. After MaxRetries resends the handshake fails
//
// The timer never sleeps. Sessions poll Expired and Remaining from their
// non-blocking read path, so time is read from an injectable clock.Clock.
package retransmit
