// Package host connects dashlink to the desktop shell that launched it.
//
// A Bridge delivers close requests and kill-switch activations and
// exposes the host's force-cleanup hook. Desktop implements it with OS
// signals, a kill-switch sentinel file watched with fsnotify, and a
// configured cleanup command. Noop is used when no host is configured.
package host
