// Package uploads pushes message attachments through the REST layer before
// the chat command referencing them goes out on the socket. The server only
// accepts file references on the wire, never raw bytes.
package uploads
