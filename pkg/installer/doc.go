// Package installer runs one download, deploy, or undeploy attempt.
//
// An attempt is executed by the progress runner, which captures the engine
// output in a log file and optionally in the exit channel. The reported
// outcome is routed to an exit code and message. Outcomes that need a
// restart register a reboot continuation; headless runs restart right away,
// interactive runs only after the user closed the result dialog.
//
// Every attempt is recorded in the history store together with the
// continuation task it created, if any.
package installer
