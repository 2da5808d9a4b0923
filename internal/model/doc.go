// Package model defines the chat types shared across the transport layer.
//
// Conventions:
//   - IDs: client-assigned strings; NewMessageID generates a UUIDv4 when the
//     caller has none. The ID is the receiver's de-duplication key.
//   - Timestamps: time.Time in UTC.
//   - Ordering: messages sharing an OrderingKey are delivered in enqueue order.
package model
