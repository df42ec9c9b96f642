// Package tgui builds Telegram inline keyboards and their callback data.
package tgui
