// Package service is the engine's single write entry point. It journals every
// accepted command before applying it to the order book, records the resulting
// trades in the outbox, and fans them out to live subscribers.
//
// Transports (websocket, gRPC, REST, Kafka) call into OrderService and never
// touch the book directly.
package service
