package main

import "time"

// Flag structs decouple cobra from logic for testing.

type RunFlags struct {
	ConfigPath  string
	NoAutoStart bool
	Executable  string
	LogLevel    string
}

// APIFlags select the running supervisor's control API.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	APIFlags
	JSON     bool
	Watch    bool
	Interval time.Duration
}

type WaitFlags struct {
	APIFlags
	Wait time.Duration // zero returns as soon as the request is queued
}

type HistoryFlags struct {
	APIFlags
	Limit int
	JSON  bool
}
