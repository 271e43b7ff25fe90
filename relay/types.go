package relay

const (
	timedOutMessage = "Command timed out"
	canceledMessage = "Command canceled"
)

// CommandResult is the outcome of one relayed command.
// Succeeded is always ExitCode == 0; results are built by newResult to keep it that way.
type CommandResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Succeeded bool   `json:"succeeded"`
}

func newResult(stdout, stderr string, exitCode int) CommandResult {
	return CommandResult{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Succeeded: exitCode == 0,
	}
}

func failedResult(stderr string) CommandResult {
	return newResult("", stderr, -1)
}
