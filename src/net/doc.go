// Package net implements the transports that carry the replication protocol
// between nodes.
//
// A Transport owns a listening socket and hands accepted connections to a
// consumer channel; the node package performs the hello exchange and runs one
// replication session per connection. Every message is framed the same way on
// every transport: a varint frame length, one type byte, and a canonical JSON
// payload.
//
// There are three implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// - QUIC: communicating over QUIC, with one bidirectional stream per
// connection
//
// TCP and QUIC bind to the configured BindAddr. When that address is not
// reachable from other machines (an unspecified or NATed address), set
// AdvertiseAddr to the address peers should dial; it is the address announced
// over discovery (cf config package).
package net
