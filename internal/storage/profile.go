package storage

const (
	metaDisplayName = "display_name"
	metaAuthToken   = "auth_token"
)

// Profile is the only client state kept across restarts.
type Profile struct {
	DisplayName string `json:"displayName"`
}

func (d *DB) Profile() (Profile, error) {
	name, err := d.GetMeta(metaDisplayName)
	return Profile{DisplayName: name}, err
}

func (d *DB) SaveProfile(p Profile) error {
	return d.SetMeta(metaDisplayName, p.DisplayName)
}

// Token returns the stored music catalog token, if any.
func (d *DB) Token() (string, error) {
	return d.GetMeta(metaAuthToken)
}

func (d *DB) SetToken(token string) error {
	return d.SetMeta(metaAuthToken, token)
}
