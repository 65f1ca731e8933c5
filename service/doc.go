// Package service runs the exchange core: one Worker per pair owns that
// pair's book and serializes every mutation of it, and OrderService is the
// single entry point that validates, routes and awaits commands.
package service
