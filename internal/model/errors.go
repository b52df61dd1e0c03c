package model

import "errors"

var (
	// ErrNotLoggedIn is returned when a send is attempted with no active session.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrLoginInFlight is returned when a login arrives while another login
	// is still running.
	ErrLoginInFlight = errors.New("login already in progress")
)
