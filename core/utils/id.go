package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// StateLength gives roughly 256 bits of entropy with the URL-safe nanoid alphabet.
const StateLength = 43

// GenerateState returns a URL-safe random value suitable as an OAuth CSRF state.
func GenerateState() (string, error) {
	return gonanoid.New(StateLength)
}
