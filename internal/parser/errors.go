package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrSectionNotFound is matched by every *ParseError.
	ErrSectionNotFound = errors.New("unable to extract expected section")
	// ErrMissingIPv4 is returned when an address or netmask line carries no
	// IPv4 value. The first IPv4 of those lines is mandatory.
	ErrMissingIPv4 = errors.New("no IPv4 value in required field")
)

// ParseError reports that an anchor based extraction found no match where
// the command output is expected to always contain one.
type ParseError struct {
	Section string
	Pattern string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %s (pattern %q)", ErrSectionNotFound, e.Section, e.Pattern)
}

func (e *ParseError) Is(target error) bool { return target == ErrSectionNotFound }
