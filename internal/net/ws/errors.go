package ws

import "errors"

var errMissingHit = errors.New("reconcileHit without hit payload")
