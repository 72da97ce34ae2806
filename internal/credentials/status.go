package credentials

import "jiralink.dev/internal/auth"

// State is the coarse connection status.
type State string

const (
	StateNoConnection     State = "NO_CONNECTION"
	StateConnectedNoCloud State = "CONNECTED_NO_CLOUD"
	StateFullyConnected   State = "FULLY_CONNECTED"
	StatePartial          State = "PARTIAL"
)

// Status is what callers use to pick the next connection step. Tokens are
// never included.
type Status struct {
	State         State  `json:"status"`
	Message       string `json:"message"`
	HasConnection bool   `json:"has_connection"`
	HasCloudID    bool   `json:"has_cloud_id"`
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
}

// Report derives the status of rec (nil when the tenant has no record).
func Report(rec *Record, role auth.Role) Status {
	if rec == nil {
		subject := "organization"
		if role == auth.RoleEmployee {
			subject = "employee"
		}
		return Status{
			State:   StateNoConnection,
			Message: "No Jira connection found for this " + subject + ".",
		}
	}

	hasToken := rec.AccessToken != ""
	hasCloud := hasToken && rec.CloudID != ""
	st := Status{HasConnection: true}
	switch {
	case hasToken && !hasCloud:
		st.State = StateConnectedNoCloud
		st.Message = "Jira connected but Cloud ID not fetched yet."
	case hasCloud:
		st.State = StateFullyConnected
		st.Message = "Jira connection is fully set up."
		st.HasCloudID = true
	default:
		st.State = StatePartial
		st.Message = "Partial Jira data found, please reconnect."
	}
	// Employees re-render their registration form from these.
	if role == auth.RoleEmployee {
		st.ClientID = rec.ClientID
		st.ClientSecret = rec.ClientSecret
	}
	return st
}
