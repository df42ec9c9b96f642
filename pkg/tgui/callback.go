package tgui

import (
	"fmt"
	"strings"
)

// Data formats inline callback data as "route:action:payload".
// Payload is kept as-is (no escaping).
func Data(route, action, payload string) string {
	route = strings.TrimSpace(route)
	action = strings.TrimSpace(action)
	if payload == "" {
		return route + ":" + action
	}
	return route + ":" + action + ":" + payload
}

// CheckData reports ErrCallbackDataTooLong for data Telegram would reject.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(data))
	}
	return nil
}
