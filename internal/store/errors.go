package store

import "errors"

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUserAlreadyExists indicates that the email or username is already registered.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInsufficientBalance indicates that a debit would take a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("store backend closed")
)
