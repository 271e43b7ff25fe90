package server

import (
	"time"

	"github.com/xhelldemo/xhelldemo/relay"
)

type ExecuteRequest struct {
	Command string `json:"command"`
}

// ExecuteResponse is a relayed command's result, with ANSI escape sequences removed from its output.
type ExecuteResponse struct {
	Command   string `json:"command"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Succeeded bool   `json:"succeeded"`
}

func newExecuteResponse(command string, res relay.CommandResult) ExecuteResponse {
	return ExecuteResponse{
		Command:   command,
		Stdout:    relay.StripANSI(res.Stdout),
		Stderr:    relay.StripANSI(res.Stderr),
		ExitCode:  res.ExitCode,
		Succeeded: res.Succeeded,
	}
}

type BatchRequest struct {
	Commands []string `json:"commands"`
}

type BatchResponse struct {
	Results []ExecuteResponse `json:"results"`
}

type HeartbeatResponse struct {
	Status string
	Time   string
}

type FilesResponse struct {
	Files []string `json:"files"`
}

type FileResponse struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type LogsResponse struct {
	Content string `json:"content"`
}

// sessionMessage is sent by the client over /session, one per command.
type sessionMessage struct {
	Command string `json:"command"`
}

// sessionResult answers one sessionMessage. Err is set instead of Result when the message could not be handled.
type sessionResult struct {
	Result *ExecuteResponse `json:"result,omitempty"`
	Err    string           `json:"error,omitempty"`
	Time   time.Time        `json:"time"`
}
