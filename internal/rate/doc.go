// Package rate implements Redis fixed-window throttles for login and
// refresh traffic.
package rate
