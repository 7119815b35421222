// Package sessions turns a "sessions by interval, grouped by status" response
// into rates, counts and chart series.
package sessions

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusErrored  Status = "errored"
	StatusAbnormal Status = "abnormal"
	StatusCrashed  Status = "crashed"
)

// StatusKey is the group dimension that carries the session status.
const StatusKey = "session.status"

var AllStatuses = []Status{StatusHealthy, StatusErrored, StatusAbnormal, StatusCrashed}

func (s Status) Valid() bool {
	switch s {
	case StatusHealthy, StatusErrored, StatusAbnormal, StatusCrashed:
		return true
	default:
		return false
	}
}

type Field string

const (
	FieldSessions    Field = "sum(session)"
	FieldUsers       Field = "count_unique(user)"
	FieldDurationP50 Field = "p50(session.duration)"
)

type Group struct {
	By     map[string]string   `json:"by"`
	Series map[Field][]float64 `json:"series"`
	Totals map[Field]float64   `json:"totals"`
}

func (g Group) Status() Status {
	return Status(g.By[StatusKey])
}

func (g Group) valueAt(field Field, index int) float64 {
	values := g.Series[field]
	if index < 0 || index >= len(values) {
		return 0
	}
	return values[index]
}

type Response struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Query     string   `json:"query"`
	Intervals []string `json:"intervals"`
	Groups    []Group  `json:"groups"`
}

type Point struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func groupsWithStatus(groups []Group, status Status) []Group {
	matched := make([]Group, 0, len(groups))
	for _, group := range groups {
		if group.Status() == status {
			matched = append(matched, group)
		}
	}
	return matched
}
