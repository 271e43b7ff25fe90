/*
Package relay runs user-issued command strings against an external shell interpreter and returns what it printed.

Each call to Relay.Execute starts a fresh interpreter process in the workspace directory, writes the command as a single line
on its stdin followed by EOF, and collects stdout, stderr and the exit code. The interpreter is started directly, never through
a second shell, so the command text is not re-parsed by anything but the interpreter.

The interpreter's own output redirection is unreliable for composite expressions, so "cmd > file" and "cmd >> file" are handled
here instead: the redirection is stripped before the command is sent, and afterwards the relay rebuilds the intended file
contents from the prompt-marked lines of stdout (see ReconstructOutput) and writes them into the workspace itself.

Nothing in this package returns an error to the caller of Execute. Spawn failures, timeouts and failed write-backs all come back
as a CommandResult with Succeeded=false, and every call is recorded in the history ledger.
*/
package relay
