package camera

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Default values applied to blank settings fields.
const (
	DefaultPort           = "554"
	DefaultChannel        = "1"
	DefaultMainStreamPath = "Streaming/Channels/101"
	DefaultSubStreamPath  = "Streaming/Channels/102"
)

// Form field names used by the settings form and the save_settings endpoint.
const (
	FieldIP             = "ip"
	FieldPort           = "port"
	FieldUsername       = "username"
	FieldPassword       = "password"
	FieldChannel        = "channel"
	FieldMainStreamPath = "main_stream_path"
	FieldSubStreamPath  = "sub_stream_path"
)

// Validation errors. Validate joins every failure it finds.
var (
	ErrMissingIP      = errors.New("camera ip is required")
	ErrInvalidIP      = errors.New("camera ip must be an address or host name")
	ErrInvalidPort    = errors.New("port must be between 1 and 65535")
	ErrInvalidChannel = errors.New("channel must be a positive integer")
	ErrMissingPath    = errors.New("stream paths must not be empty")
	ErrOrphanPassword = errors.New("password given without username")
)

var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// Settings is the connection configuration of a single network camera.
type Settings struct {
	IP             string `json:"ip" gorm:"column:ip"`
	Port           string `json:"port" gorm:"column:port"`
	Username       string `json:"username" gorm:"column:username"`
	Password       string `json:"password,omitempty" gorm:"column:password"`
	Channel        string `json:"channel" gorm:"column:channel"`
	MainStreamPath string `json:"main_stream_path" gorm:"column:main_stream_path"`
	SubStreamPath  string `json:"sub_stream_path" gorm:"column:sub_stream_path"`
}

// DefaultSettings returns an unconfigured record with every default filled in.
func DefaultSettings() Settings {
	return Settings{
		Port:           DefaultPort,
		Channel:        DefaultChannel,
		MainStreamPath: DefaultMainStreamPath,
		SubStreamPath:  DefaultSubStreamPath,
	}
}

// SettingsFromForm reads a submitted settings form. Blank optional fields
// take their defaults; the IP is never defaulted.
func SettingsFromForm(form url.Values) Settings {
	s := Settings{
		IP:             strings.TrimSpace(form.Get(FieldIP)),
		Port:           strings.TrimSpace(form.Get(FieldPort)),
		Username:       form.Get(FieldUsername),
		Password:       form.Get(FieldPassword),
		Channel:        strings.TrimSpace(form.Get(FieldChannel)),
		MainStreamPath: strings.TrimSpace(form.Get(FieldMainStreamPath)),
		SubStreamPath:  strings.TrimSpace(form.Get(FieldSubStreamPath)),
	}
	return s.WithDefaults()
}

// WithDefaults returns a copy of s with blank optional fields defaulted.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.Port == "" {
		s.Port = d.Port
	}
	if s.Channel == "" {
		s.Channel = d.Channel
	}
	if s.MainStreamPath == "" {
		s.MainStreamPath = d.MainStreamPath
	}
	if s.SubStreamPath == "" {
		s.SubStreamPath = d.SubStreamPath
	}
	return s
}

// Form encodes the settings as form fields.
func (s Settings) Form() url.Values {
	return url.Values{
		FieldIP:             {s.IP},
		FieldPort:           {s.Port},
		FieldUsername:       {s.Username},
		FieldPassword:       {s.Password},
		FieldChannel:        {s.Channel},
		FieldMainStreamPath: {s.MainStreamPath},
		FieldSubStreamPath:  {s.SubStreamPath},
	}
}

// Set assigns a single field by its form name.
func (s *Settings) Set(field, value string) error {
	switch field {
	case FieldIP:
		s.IP = strings.TrimSpace(value)
	case FieldPort:
		s.Port = strings.TrimSpace(value)
	case FieldUsername:
		s.Username = value
	case FieldPassword:
		s.Password = value
	case FieldChannel:
		s.Channel = strings.TrimSpace(value)
	case FieldMainStreamPath:
		s.MainStreamPath = strings.TrimSpace(value)
	case FieldSubStreamPath:
		s.SubStreamPath = strings.TrimSpace(value)
	default:
		return fmt.Errorf("unknown settings field %q", field)
	}
	return nil
}

// Configured reports whether a camera address has been set.
func (s Settings) Configured() bool {
	return s.IP != ""
}

// Validate checks every field and returns all failures joined together.
func (s Settings) Validate() error {
	var errs []error

	switch {
	case s.IP == "":
		errs = append(errs, ErrMissingIP)
	case !validHost(s.IP):
		errs = append(errs, ErrInvalidIP)
	}

	if p, err := strconv.Atoi(s.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c, err := strconv.Atoi(s.Channel); err != nil || c < 1 {
		errs = append(errs, ErrInvalidChannel)
	}
	if s.MainStreamPath == "" || s.SubStreamPath == "" {
		errs = append(errs, ErrMissingPath)
	}
	if s.Password != "" && s.Username == "" {
		errs = append(errs, ErrOrphanPassword)
	}

	return errors.Join(errs...)
}

// StreamPath returns the camera-side path of the given variant.
func (s Settings) StreamPath(v Variant) string {
	if v == VariantSub {
		if s.SubStreamPath != "" {
			return s.SubStreamPath
		}
		return DefaultSubStreamPath
	}
	if s.MainStreamPath != "" {
		return s.MainStreamPath
	}
	return DefaultMainStreamPath
}

func validHost(h string) bool {
	if net.ParseIP(h) != nil {
		return true
	}
	if len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	return true
}
