// Package adbd optionally owns the adb server process.
//
// With device.managed_server.enabled the server is started as a supervised
// child on a private port so a crashed server is restarted and a stuck one
// is killed by the health watchdog. Otherwise the system adb server is used.
package adbd
