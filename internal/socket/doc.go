// Package socket maintains the realtime websocket connection to the Ktulhu
// backend.
//
// # Basic Usage
//
// Create a manager and register a session:
//
//	m := socket.NewManager(socket.Config{URL: "wss://api.example.com/ws"})
//	defer m.Close()
//
//	m.EnsureConnected(sess)
//
// Subscribe to streamed tokens and completion signals:
//
//	tokens := m.Streams().Tokens.Subscribe()
//	defer tokens.Close()
//	done := m.Streams().Done.Subscribe()
//	defer done.Close()
//
//	requestID, ok := m.SendPrompt("Hello", sess, nil, "")
//
// # Streams
//
// Inbound frames are classified by a Router. Bare text frames are token
// fragments; JSON objects are published on the Messages stream and, by
// their type, on System or Summaries. A JSON object may also carry a text
// chunk (token, text or message) and a done flag.
//
// Every stream buffers per subscriber and drops the oldest event when a
// subscriber falls behind, so the receive loop never blocks.
//
// # Reconnects
//
// After an error or an unsolicited close the manager reconnects with a
// delay that starts at 500ms and doubles up to 8s. A successful open resets
// the delay and re-registers the last known session.
package socket
