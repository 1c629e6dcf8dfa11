// Package tgui has small helpers for Telegram HTML messages.
//
// Values of type H are already escaped for ParseMode="HTML".
package tgui
