//go:build !linux

package capture

import "errors"

func newCursorLocator() (CursorLocator, error) {
	return nil, errors.New("cursor position not available on this platform")
}
