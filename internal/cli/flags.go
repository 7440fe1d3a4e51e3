package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
	Actor   string `long:"actor" description:"Name recorded in the change log for this invocation"`
	DBPath  string `long:"db-path" description:"Override the SQLite database path"`
}

// StatusCommand: show the engagement summary for the latest week.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// LogCommand: record a weekly log. The engagement score is derived.
type LogCommand struct {
	Week            string   `long:"week" description:"Week ending date, YYYY-MM-DD (required)"`
	DAU             int      `long:"dau" description:"Daily active users"`
	WAU             int      `long:"wau" description:"Weekly active users"`
	MAU             int      `long:"mau" description:"Monthly active users"`
	SessionsPerUser float64  `long:"sessions-per-user" description:"Average sessions per user"`
	SessionLength   float64  `long:"session-length" description:"Average session length in minutes"`
	Retention       float64  `long:"retention" description:"Retention rate, percent"`
	Churn           float64  `long:"churn" description:"Churn rate, percent"`
	FeatureAdoption float64  `long:"feature-adoption" description:"Feature adoption, percent"`
	NPS             string   `long:"nps" description:"Net promoter score, -100..100"`
	ErrorRate       float64  `long:"error-rate" description:"Error rate, percent"`
	PHIOptIn        float64  `long:"phi-opt-in" description:"PHI opt-in rate, percent"`
	Mobile          float64  `long:"mobile" description:"Mobile share, percent"`
	Desktop         float64  `long:"desktop" description:"Desktop share, percent"`
	Conversion      float64  `long:"conversion" description:"Conversion rate, percent"`
	UserGrowth      int      `long:"user-growth" description:"Net new users"`
	Notes           string   `long:"notes" description:"Free-form notes"`
	Meta            []string `long:"meta" description:"Metadata key=value (repeatable)"`
	RecordedBy      string   `long:"recorded-by" description:"Recorder name (defaults to the actor)"`

	globals *GlobalFlags
	version string
}

// UpdateLogCommand: change fields of an existing weekly log.
type UpdateLogCommand struct {
	ID             string   `long:"id" description:"Weekly log ID (required)"`
	Set            []string `long:"set" description:"Column assignment key=value (repeatable)"`
	ExpectVersion  int64    `long:"expect-version" description:"Fail if the row is no longer at this version"`
	Reason         string   `long:"reason" description:"Reason recorded in the change log"`
	ComplianceNote string   `long:"compliance-note" description:"Compliance note recorded in the change log"`

	globals *GlobalFlags
	version string
}

// FeatureCommand: record feature adoption for a week, or correct a row.
type FeatureCommand struct {
	Week            string  `long:"week" description:"Week ending date, YYYY-MM-DD (required)"`
	Name            string  `long:"name" description:"Feature name (required)"`
	Category        string  `long:"category" description:"Feature category"`
	Users           int     `long:"users" description:"Users who touched the feature"`
	Percent         float64 `long:"percent" description:"Share of active users, percent"`
	SessionsPerUser float64 `long:"sessions-per-user" description:"Average sessions per user"`
	TotalSessions   int     `long:"total-sessions" description:"Total sessions"`
	Duration        float64 `long:"duration" description:"Average duration in minutes"`
	Notes           string  `long:"notes" description:"Free-form notes"`
	Supersedes      string  `long:"supersedes" description:"ID of the row this one corrects"`
	Reason          string  `long:"reason" description:"Reason for a correction"`

	globals *GlobalFlags
	version string
}

// CohortCommand: record a signup cohort.
type CohortCommand struct {
	SignupWeek string  `long:"signup-week" description:"Cohort signup week, YYYY-MM-DD (required)"`
	Name       string  `long:"name" description:"Cohort label"`
	Users      int     `long:"users" description:"Users in the cohort"`
	Day1       float64 `long:"day1" description:"Day 1 retention, percent"`
	Day7       float64 `long:"day7" description:"Day 7 retention, percent"`
	Day14      string  `long:"day14" description:"Day 14 retention, percent"`
	Day30      float64 `long:"day30" description:"Day 30 retention, percent"`
	Day60      string  `long:"day60" description:"Day 60 retention, percent"`
	Day90      string  `long:"day90" description:"Day 90 retention, percent"`
	Notes      string  `long:"notes" description:"Free-form notes"`

	globals *GlobalFlags
	version string
}

// CohortUpdateCommand: back-fill or change fields of a cohort.
type CohortUpdateCommand struct {
	ID             string   `long:"id" description:"Cohort ID (required)"`
	Set            []string `long:"set" description:"Column assignment key=value (repeatable)"`
	ExpectVersion  int64    `long:"expect-version" description:"Fail if the row is no longer at this version"`
	Reason         string   `long:"reason" description:"Reason recorded in the change log"`
	ComplianceNote string   `long:"compliance-note" description:"Compliance note recorded in the change log"`

	globals *GlobalFlags
	version string
}

// SegmentCommand: record a user segment for a week, or correct a row.
type SegmentCommand struct {
	Week          string  `long:"week" description:"Week ending date, YYYY-MM-DD (required)"`
	Name          string  `long:"name" description:"Segment name (required)"`
	Type          string  `long:"type" description:"Segment type: tier | location | device (required)"`
	Users         int     `long:"users" description:"Users in the segment"`
	DAU           int     `long:"dau" description:"Daily active users"`
	Retention     float64 `long:"retention" description:"Retention rate, percent"`
	Score         float64 `long:"score" description:"Segment engagement score, 0..100"`
	SessionLength float64 `long:"session-length" description:"Average session length in minutes"`
	Conversion    float64 `long:"conversion" description:"Conversion rate, percent"`
	Notes         string  `long:"notes" description:"Free-form notes"`
	Supersedes    string  `long:"supersedes" description:"ID of the row this one corrects"`
	Reason        string  `long:"reason" description:"Reason for a correction"`

	globals *GlobalFlags
	version string
}

// TrendsCommand: print the weekly trend series.
type TrendsCommand struct {
	Series string `long:"series" description:"Print only this series"`

	globals *GlobalFlags
	version string
}

// ChangesCommand: list the change log, newest first.
type ChangesCommand struct {
	Since  string   `long:"since" description:"Only entries newer than duration (e.g., 7d, 24h)"`
	Table  []string `long:"table" description:"Filter by affected table (repeatable)"`
	Record string   `long:"record" description:"Filter by affected record ID"`
	Actor  string   `long:"by" description:"Filter by actor name"`
	Limit  int      `long:"limit" description:"Maximum results" default:"20"`
	Offset int      `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// ShowCommand: print one record and its change history.
type ShowCommand struct {
	Table  string `long:"table" description:"Table holding the record" default:"weekly_logs"`
	ID     string `long:"id" description:"Record ID (required)"`
	Format string `long:"format" description:"Output format: full | md | json" default:"full"`

	globals *GlobalFlags
	version string
}

// DefinitionsCommand: list metric definitions.
type DefinitionsCommand struct {
	globals *GlobalFlags
	version string
}

// ExportCommand: write one table as a dated CSV file.
type ExportCommand struct {
	Table string `long:"table" description:"Table to export (required)"`
	Out   string `long:"out" description:"Output directory (defaults to export.dir)"`

	globals *GlobalFlags
	version string
}

// ReconcileCommand: find rows that lack change-log entries.
type ReconcileCommand struct {
	Repair bool `long:"repair" description:"Append repair entries for the missing history"`

	globals *GlobalFlags
	version string
}

// ServeCommand: run the JSON API with scheduled reconciliation.
type ServeCommand struct {
	Host string `long:"host" description:"Override listen host"`
	Port int    `long:"port" description:"Override listen port"`

	globals *GlobalFlags
	version string
}
