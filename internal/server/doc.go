// Package server exposes recordings and stations over HTTP. Every request
// failure is answered with an empty 404; the cause is only logged.
package server
