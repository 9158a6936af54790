package webhook

// Kind identifies a version control provider. Values match what is stored
// on a workspace.
type Kind string

const (
	KindGitHub    Kind = "GITHUB"
	KindBitbucket Kind = "BITBUCKET"
)

const EventPush = "push"

// Event is the provider independent result of normalizing one delivery.
// Branch and CreatedBy are only populated for push events.
type Event struct {
	Valid     bool   `json:"valid"`
	Via       string `json:"via"`
	Event     string `json:"event"`
	Branch    string `json:"branch"`
	CreatedBy string `json:"createdBy,omitempty"`
}

func (e Event) IsPush() bool {
	return e.Valid && e.Event == EventPush
}

// Hook describes a webhook to create on the provider side.
type Hook struct {
	Source      string // repository url
	ApiUrl      string
	AccessToken string
	CallbackUrl string
	Secret      string
}
