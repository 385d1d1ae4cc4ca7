// Package client provides a Go client for the Ktulhu REST API.
//
// The client covers the chat thread and summary endpoints used to load
// history and to manage individual messages. The realtime prompt stream
// lives in package socket.
//
// # Basic Usage
//
//	c := client.New("https://api.example.com", client.WithTimeout(15*time.Second))
//
//	raw, err := c.GetThreadRaw(ctx, chatID)
//	thread, err := c.GetThread(ctx, chatID)
//
// Manage a thread:
//
//	err := c.UpdateSummary(ctx, chatID, "Cosmic horror")
//	err = c.SetMessageLiked(ctx, chatID, messageID, true)
//	err = c.DeleteMessage(ctx, chatID, messageID)
//	err = c.DeleteThread(ctx, chatID)
//
// # Errors
//
// Non-2xx responses are returned as errors that include the status code and
// body. A 404 wraps ErrNotFound.
//
// # Thread Safety
//
// The Client is safe for concurrent use from multiple goroutines.
package client
