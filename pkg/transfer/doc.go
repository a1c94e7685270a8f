// Package transfer holds the per-transfer TFTP state machine.
//
// A Session never touches the network or the file system. The owner feeds it
// events (the start of the transfer, a decoded packet, an expired timer, a block
// read from the source, a cancellation) and executes the actions it returns in
// order: send a packet to the bound peer, deliver a payload to the sink, read the
// next block from the source, or finish. Both the client and the server drive
// the same Session type; only the role and direction differ.
//
// Block numbers are compared for equality only. The receiver expects exactly
// last+1 (mod 65536) and re-acknowledges anything else without delivering it;
// the sender advances only on the ack for its outstanding block and ignores
// stale acks, so a duplicated packet never doubles the traffic.
package transfer
