// Package telegram sends schedule alerts to a Telegram chat.
package telegram
