package model

import "errors"

var (
	// Identity related errors
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
