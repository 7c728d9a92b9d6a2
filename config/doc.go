// Package config loads the gateway configuration from config.yaml (in ./config
// or the working directory) and environment variables, then validates it.
//
// Every key can be overridden from the environment by upper-casing it and
// replacing dots with underscores, so notifier.bot_token becomes
// NOTIFIER_BOT_TOKEN. Sections cover the HTTP server, logging, backends, the
// selection strategy, health checking, circuit breaking, notifications, the
// durable store and the metrics pipeline.
package config
