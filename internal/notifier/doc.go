// Package notifier delivers operational alerts to a Telegram chat.
//
// SendNotification gates on credentials and per-type toggles, then retries
// delivery with exponential backoff. When every attempt fails, the fallback
// path logs the alert instead. Each terminal outcome is written to the store
// exactly once.
package notifier
