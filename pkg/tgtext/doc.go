// Package tgtext contains small text helpers for Telegram messages sent with
// the legacy "Markdown" parse mode.
package tgtext
