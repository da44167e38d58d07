package harvest

import "errors"

// ErrInvalidConfig marks setup errors that should abort before any call is made.
var ErrInvalidConfig = errors.New("harvest: invalid config")
