// Package remote runs bundle subcommands on nodes as detached jobs.
//
// A job never depends on the SSH session that launched it: the script is
// uploaded into a fresh private directory, started under nohup with its
// output redirected to a log file, and its exit status is written
// atomically to an exit file. The controller then polls for the exit file
// on a timer, so a dropped connection or a slow node never loses the
// result.
//
// Layout of a job directory:
//
//	<dir>/run.sh     the command, mode 700
//	<dir>/run.log    combined stdout and stderr
//	<dir>/run.exit   decimal exit status, present only after completion
package remote
