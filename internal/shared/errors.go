package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness violation (project/material codes).
	ErrDuplicate = errors.New("duplicate entry")
	// ErrNotLinked indicates a material is not linked with the project.
	ErrNotLinked = errors.New("material not linked with project")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
