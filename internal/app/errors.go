package app

import "errors"

var (
	ErrEmptyPrompt      = errors.New("prompt must not be empty")
	ErrRepoNotConnected = errors.New("repository is not connected to this guild")
	ErrAlreadyConnected = errors.New("repository is already connected to this guild")
	ErrNotPublic        = errors.New("only public repositories can be connected")
	ErrUnknownThread    = errors.New("thread has no requests")
	ErrUnknownProvider  = errors.New("unknown provider")
)
