package main

import "time"

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags locate a running firestarter daemon
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen   string
	BasePath string
	NoWatch  bool
	Metrics  bool
}

// IntentFlags holds flags for dispatching an intent through the daemon
type IntentFlags struct {
	APIFlags
	Wait bool
	Yes  bool
}

// ExecFlags holds flags for running an intent without a daemon
type ExecFlags struct {
	Yes bool
}

// NotificationsFlags holds flags for the notifications command
type NotificationsFlags struct {
	APIFlags
	Since    uint64
	Follow   bool
	Interval time.Duration
}
