package config

import "time"

// Config is intentionally small and JSON-friendly.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8080".
	Addr string `json:"addr"`

	// DataDir holds everything scripthost persists: the user store file and
	// the uploads root. Default layout:
	//   <dataDir>/users.json
	//   <dataDir>/uploads/<username>/<storedName>
	DataDir string `json:"dataDir"`

	// UsersFile overrides the user store location. Default: <dataDir>/users.json
	UsersFile string `json:"usersFile,omitempty"`

	// UploadsDir overrides the uploads root. Default: <dataDir>/uploads
	UploadsDir string `json:"uploadsDir,omitempty"`

	// MaxUploadBytes caps a single upload. Default: 5 MiB.
	MaxUploadBytes int64 `json:"maxUploadBytes,omitempty"`

	// SessionTTL is how long a login cookie stays valid. Default: 24h.
	SessionTTL Duration `json:"sessionTTL,omitempty"`

	// AuthRatePerMin limits register/login attempts per client address.
	// Default: 30 per minute with a burst of 10.
	AuthRatePerMin float64 `json:"authRatePerMin,omitempty"`
	AuthRateBurst  int     `json:"authRateBurst,omitempty"`
}

const (
	DefaultMaxUploadBytes = 5 << 20
	DefaultSessionTTL     = 24 * time.Hour
	DefaultAuthRatePerMin = 30
	DefaultAuthRateBurst  = 10
)

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = Duration(DefaultSessionTTL)
	}
	if c.AuthRatePerMin == 0 {
		c.AuthRatePerMin = DefaultAuthRatePerMin
	}
	if c.AuthRateBurst == 0 {
		c.AuthRateBurst = DefaultAuthRateBurst
	}
}

// Duration is a time.Duration that unmarshals from "24h"-style JSON strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
