package repository

import "errors"

var ErrOrderExists = errors.New("order already exists")
