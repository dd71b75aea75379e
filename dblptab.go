// Package dblptab turns the dblp XML dump into flat relational tables.
package dblptab

const (
	Version = "0.1.0"
	AppName = "dblptab"
)
