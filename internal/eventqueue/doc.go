// Package eventqueue provides the unbounded FIFO that carries events from
// subsystem adapters to the single coordinator consumer.
//
// Push never blocks, so adapters can emit while holding no coordinator state.
// Pop blocks until an item arrives, the context is cancelled or the queue is
// closed.
package eventqueue
