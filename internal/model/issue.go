// Package model holds the plain data types shared between the tracker, the
// board and the sources.
package model

import "strconv"

// Issue is one item from the external tracker.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	URL    string `json:"url,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// Key is the issue number as a map key.
func (i Issue) Key() string { return strconv.Itoa(i.Number) }
