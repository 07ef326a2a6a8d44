package session

// Command is a request to change a task session. Commands never mutate state;
// Decide turns them into events.
type Command interface {
	CommandName() string
	isCommand()
}

// StartTask opens a new stream.
type StartTask struct {
	Issue          Issue
	InitialSummary string
	WorkspaceID    string
	UserID         string
}

// AddProgress reports progress and returns a session to in_progress.
type AddProgress struct {
	Summary string
}

// ReportBlock opens a new block.
type ReportBlock struct {
	Reason string
}

// ResolveBlock closes an unresolved block.
type ResolveBlock struct {
	BlockID string
}

// PauseTask pauses the session.
type PauseTask struct {
	Reason string
}

// ResumeTask resumes a paused session.
type ResumeTask struct {
	Summary string
}

// CompleteTask finishes the session.
type CompleteTask struct {
	Summary string
}

// CancelTask abandons the session. Reason is optional.
type CancelTask struct {
	Reason string
}

// LinkSlackThread records the chat thread that mirrors the session.
type LinkSlackThread struct {
	Channel  string
	ThreadTS string
}

func (StartTask) CommandName() string       { return "start_task" }
func (AddProgress) CommandName() string     { return "add_progress" }
func (ReportBlock) CommandName() string     { return "report_block" }
func (ResolveBlock) CommandName() string    { return "resolve_block" }
func (PauseTask) CommandName() string       { return "pause_task" }
func (ResumeTask) CommandName() string      { return "resume_task" }
func (CompleteTask) CommandName() string    { return "complete_task" }
func (CancelTask) CommandName() string      { return "cancel_task" }
func (LinkSlackThread) CommandName() string { return "link_slack_thread" }

func (StartTask) isCommand()       {}
func (AddProgress) isCommand()     {}
func (ReportBlock) isCommand()     {}
func (ResolveBlock) isCommand()    {}
func (PauseTask) isCommand()       {}
func (ResumeTask) isCommand()      {}
func (CompleteTask) isCommand()    {}
func (CancelTask) isCommand()      {}
func (LinkSlackThread) isCommand() {}
