package domain

import "time"

type Template struct {
	ID        int64
	Name      string
	Filename  string
	Keywords  []string
	CreatedAt time.Time
	// URL is resolved from Filename by the active disk; it is never stored.
	URL string
}
