package project

// Environment variables passed from the process runner to spawned
// agents, and read back by the MCP server those agents start.
const (
	// EnvTaskID carries the pre-assigned root task ID so a spawned
	// orchestrator resumes it instead of creating a new one.
	EnvTaskID = "AGENTSMITH_TASK_ID"

	// EnvDBPath points every process in a run at the same task
	// database.
	EnvDBPath = "AGENTSMITH_DB_PATH"
)
