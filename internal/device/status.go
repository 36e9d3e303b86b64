package device

import "encoding/json"

// StatusCode grades a device's health.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	StatusGood
	StatusWarning
	StatusBad
	StatusFatal
)

var statusNames = map[StatusCode]string{
	StatusUnknown: "unknown",
	StatusGood:    "good",
	StatusWarning: "warning",
	StatusBad:     "bad",
	StatusFatal:   "fatal",
}

// String returns the lowercase name of the code.
func (c StatusCode) String() string {
	if s, ok := statusNames[c]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON encodes the code by name.
func (c StatusCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a code by name. Unrecognised names decode as
// StatusUnknown.
func (c *StatusCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = StatusUnknown
	for code, name := range statusNames {
		if name == s {
			*c = code
			break
		}
	}
	return nil
}

// Status is a point-in-time health report.
type Status struct {
	Code     StatusCode `json:"status_code"`
	Messages []string   `json:"messages,omitempty"`
	Active   bool       `json:"active"`
}

// Connected reports whether the device is usable.
func (s Status) Connected() bool {
	return s.Code == StatusGood || s.Code == StatusWarning
}
