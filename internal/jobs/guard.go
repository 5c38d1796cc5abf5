package jobs

import (
	"fmt"
)

// Guard runs fn and converts a panic into an error, so that one bad record
// cannot abort a whole sweep.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
