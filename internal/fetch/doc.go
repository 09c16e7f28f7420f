// Package fetch models the values that flow through interception: a Request
// and a Response whose bodies are single-consumption streams, plus the
// Fetcher capability that turns a Request into a network Response.
//
// Ownership rule: once Body has been taken, it cannot be taken again. Code
// that both returns a value and persists it must call Clone first; Clone
// buffers the stream once and hands each copy an independent reader.
package fetch
