package models

import "strings"

type Credentials struct {
	ServerAddress string `json:"serverAddress"`
	BearerToken   string `json:"bearerToken"`
	Remember      bool   `json:"remember"`
}

// ServerBase returns the base URL for API calls. Server addresses entered
// without a scheme get https:// prefixed.
func (c Credentials) ServerBase() string {
	addr := strings.TrimSuffix(c.ServerAddress, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "https://" + addr
}
