package main

import "time"

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	ConfigPath string
	Listen     string
	// Every overrides schedule.every when > 0.
	Every     time.Duration
	Daemonize bool
	PidFile   string
	LogFile   string
}

type RunFlags struct {
	ConfigPath string
	// Timeout overrides worker.timeout when > 0.
	Timeout time.Duration
}

type StatusFlags struct {
	JSON bool
	// Remote supervisor connection
	APIUrl     string
	APITimeout time.Duration
}

type RunsFlags struct {
	Limit int
	JSON  bool
	// Remote supervisor connection
	APIUrl     string
	APITimeout time.Duration
}

type InitFlags struct {
	// Type selects the starter config flavor; empty means simple.
	Type  string
	Name  string
	Force bool
}
