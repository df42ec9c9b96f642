package tgui

import "errors"

// MaxCallbackDataLen is the Bot API limit for callback_data, in bytes.
const MaxCallbackDataLen = 64

// MaxButtonTextLen is the label length, in runes, before Label shortens it.
const MaxButtonTextLen = 48

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
