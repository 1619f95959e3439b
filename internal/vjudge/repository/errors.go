package repository

import "errors"

var (
	ErrAccountNotFound = errors.New("remote account not found")
	ErrMountNotFound   = errors.New("mount not found")
	ErrSettingNotFound = errors.New("setting not found")
	ErrProblemExists   = errors.New("problem already exists")
)
