package session

// Project describes the target system the executor is asked to build.
type Project struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Complexity     string  `json:"complexity"`
	TargetLOC      int     `json:"target_loc"`
	TargetCoverage float64 `json:"target_coverage"`
}

// DefaultProject is used for unknown project keys.
const DefaultProject = "task_queue"

var projects = map[string]Project{
	"task_queue": {
		Key:            "task_queue",
		Name:           "RedQueue",
		Description:    "Redis-compatible distributed task queue",
		Complexity:     "high",
		TargetLOC:      5000,
		TargetCoverage: 0.80,
	},
	"database": {
		Key:            "database",
		Name:           "MiniDB",
		Description:    "Simplified database engine",
		Complexity:     "very_high",
		TargetLOC:      8000,
		TargetCoverage: 0.75,
	},
	"microservices": {
		Key:            "microservices",
		Name:           "ServiceMesh",
		Description:    "Microservices platform",
		Complexity:     "high",
		TargetLOC:      6000,
		TargetCoverage: 0.80,
	},
}

// LookupProject returns the preset for key, falling back to DefaultProject.
// The second result reports whether key was known.
func LookupProject(key string) (Project, bool) {
	p, ok := projects[key]
	if !ok {
		return projects[DefaultProject], false
	}

	return p, true
}

// ProjectKeys lists the known presets.
func ProjectKeys() []string {
	return []string{"task_queue", "database", "microservices"}
}
