// Package ws bridges a mobile shell's sandbox page to the relay over a
// WebSocket.
//
// The shell owns the real browser surface. It connects to /ws/sandbox, which
// binds the connection as the relay's live handle, and forwards what the page
// does:
//
//	shell → host  {"kind":"lifecycle","loaded":true}
//	shell → host  {"kind":"message","data":"<string posted by the page>"}
//	host → shell  {"kind":"inject","script":"..."}
//	either way    {"kind":"ping"} / {"kind":"pong"}
//
// Disconnecting unbinds the handle; a second connection replaces the first.
// Scripts are queued and written by one goroutine per connection, so
// InjectJavaScript never waits on the network.
package ws
